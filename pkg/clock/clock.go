package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DateLayout is the calendar-date key format used for daily periods.
	DateLayout = "2006-01-02"
	// MonthLayout is the year-month key format used for monthly periods.
	MonthLayout = "2006-01"
)

// Clock supplies the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// System reads the real clock in a fixed location.
type System struct {
	loc *time.Location
}

// NewSystem returns a system clock bound to the provided location (UTC when nil).
func NewSystem(loc *time.Location) *System {
	if loc == nil {
		loc = time.UTC
	}
	return &System{loc: loc}
}

// Now implements Clock.
func (s *System) Now() time.Time {
	return time.Now().In(s.loc)
}

// Location exposes the configured location.
func (s *System) Location() *time.Location {
	return s.loc
}

// Fake is a manually driven clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake builds a fake clock frozen at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now implements Clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// TimeOfDay is a minute-resolution wall-clock time (HH:MM).
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Midnight is 00:00.
var Midnight = TimeOfDay{}

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", raw)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// MustParseTimeOfDay panics on malformed input. Intended for constants and tests.
func MustParseTimeOfDay(raw string) TimeOfDay {
	tod, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return tod
}

// String renders HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Reached reports whether the time-of-day of now is at or after t.
func (t TimeOfDay) Reached(now time.Time) bool {
	return now.Hour()*60+now.Minute() >= t.Minutes()
}

// On returns the instant at t on the calendar day of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfNextDay returns local midnight of the following calendar day.
func StartOfNextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// DaysBetween counts calendar days from a to b (b - a), ignoring time of day and DST shifts.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// AddDays shifts t by n calendar days keeping the wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// LastDayOfMonth returns the day number of the last day in t's month.
func LastDayOfMonth(t time.Time) int {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// IsLastDayOfMonth reports whether t falls on the final calendar day of its month.
func IsLastDayOfMonth(t time.Time) bool {
	return t.Day() == LastDayOfMonth(t)
}

// DateKey formats the calendar date of t.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// MonthKey formats the year-month of t.
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}

// SameDate reports whether a and b share a calendar date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
