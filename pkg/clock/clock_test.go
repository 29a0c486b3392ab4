package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 7, Minute: 30}, tod)
	assert.Equal(t, "07:30", tod.String())

	for _, raw := range []string{"", "7", "24:00", "12:60", "ab:cd", "12:5", "12:30:00"} {
		_, err := ParseTimeOfDay(raw)
		assert.Error(t, err, raw)
	}
}

func TestTimeOfDayReached(t *testing.T) {
	tod := MustParseTimeOfDay("07:30")
	assert.False(t, tod.Reached(time.Date(2024, 1, 12, 7, 29, 59, 0, time.UTC)))
	assert.True(t, tod.Reached(time.Date(2024, 1, 12, 7, 30, 0, 0, time.UTC)))
	assert.True(t, tod.Reached(time.Date(2024, 1, 12, 23, 0, 0, 0, time.UTC)))
}

func TestDaysBetweenIgnoresTimeOfDay(t *testing.T) {
	a := time.Date(2024, 1, 10, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 1, 12, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 2, DaysBetween(a, b))
	assert.Equal(t, -2, DaysBetween(b, a))
}

func TestDaysBetweenAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	a := time.Date(2024, 3, 9, 12, 0, 0, 0, loc)
	b := time.Date(2024, 3, 11, 0, 30, 0, 0, loc)
	assert.Equal(t, 2, DaysBetween(a, b))
}

func TestLastDayOfMonth(t *testing.T) {
	assert.Equal(t, 29, LastDayOfMonth(time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 28, LastDayOfMonth(time.Date(2023, 2, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 31, LastDayOfMonth(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, IsLastDayOfMonth(time.Date(2024, 4, 30, 10, 0, 0, 0, time.UTC)))
	assert.False(t, IsLastDayOfMonth(time.Date(2024, 4, 29, 10, 0, 0, 0, time.UTC)))
}

func TestKeys(t *testing.T) {
	now := time.Date(2024, 1, 31, 23, 5, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-31", DateKey(now))
	assert.Equal(t, "2024-01", MonthKey(now))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), StartOfNextDay(now))
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 12, 8, 0, 0, 0, time.UTC)
	fake := NewFake(start)
	fake.Advance(5 * time.Minute)
	assert.Equal(t, start.Add(5*time.Minute), fake.Now())
	fake.Set(start)
	assert.Equal(t, start, fake.Now())
}
