package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
)

type recordingObserver struct {
	mu      sync.Mutex
	fired   []string
	failed  []string
	missed  []string
	invalid []string
	ticks   int
}

func (r *recordingObserver) TaskFired(task, period string, _ time.Duration) {
	r.mu.Lock()
	r.fired = append(r.fired, task+"@"+period)
	r.mu.Unlock()
}

func (r *recordingObserver) TaskFailed(task, period string, _ error) {
	r.mu.Lock()
	r.failed = append(r.failed, task+"@"+period)
	r.mu.Unlock()
}

func (r *recordingObserver) TaskMissed(task, period string, _ error) {
	r.mu.Lock()
	r.missed = append(r.missed, task+"@"+period)
	r.mu.Unlock()
}

func (r *recordingObserver) ConfigInvalid(task, value string, _ error) {
	r.mu.Lock()
	r.invalid = append(r.invalid, task+"="+value)
	r.mu.Unlock()
}

func (r *recordingObserver) TickCompleted(time.Duration) {
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
}

type failingMarkers struct {
	*MemoryMarkers
	setErr error
}

func (f *failingMarkers) Set(ctx context.Context, key, period string) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemoryMarkers.Set(ctx, key, period)
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, time.UTC)
	require.NoError(t, err)
	return ts
}

func countingTask(key string, period Period, calls *int32, err error) Task {
	return Task{Key: key, Period: period, Effect: func(context.Context, Run) error {
		atomic.AddInt32(calls, 1)
		return err
	}}
}

func TestDailyTaskFiresOncePerDate(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 08:00"))
	markers := NewMemoryMarkers()
	require.NoError(t, markers.Set(context.Background(), "reset-standard", "2024-03-04"))
	var calls int32
	engine, err := New(clk, StaticConfig{"reset-standard": {TimeOfDay: "07:30", Enabled: true}}, markers,
		[]Task{countingTask("reset-standard", Daily, &calls, nil)}, Options{})
	require.NoError(t, err)

	out := engine.Poll(context.Background())
	require.Len(t, out, 1)
	assert.Equal(t, ResultFired, out[0].Result)
	period, ok, _ := markers.Get(context.Background(), "reset-standard")
	assert.True(t, ok)
	assert.Equal(t, "2024-03-05", period)

	clk.Advance(5 * time.Minute)
	out = engine.Poll(context.Background())
	assert.Equal(t, ResultAlreadyDone, out[0].Result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDailyTaskWaitsForConfiguredTime(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 07:29"))
	var calls int32
	engine, err := New(clk, StaticConfig{"reset": {TimeOfDay: "07:30", Enabled: true}}, NewMemoryMarkers(),
		[]Task{countingTask("reset", Daily, &calls, nil)}, Options{})
	require.NoError(t, err)

	assert.Equal(t, ResultNotDue, engine.Poll(context.Background())[0].Result)
	clk.Advance(time.Minute)
	assert.Equal(t, ResultFired, engine.Poll(context.Background())[0].Result)
	assert.Equal(t, int32(1), calls)
}

func TestMarkerFromAnotherInstancePreventsRefire(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 09:00"))
	markers := NewMemoryMarkers()
	require.NoError(t, markers.Set(context.Background(), "reset", "2024-03-05"))
	var calls int32
	engine, err := New(clk, StaticConfig{"reset": {TimeOfDay: "07:30", Enabled: true}}, markers,
		[]Task{countingTask("reset", Daily, &calls, nil)}, Options{})
	require.NoError(t, err)

	assert.Equal(t, ResultAlreadyDone, engine.Poll(context.Background())[0].Result)
	assert.Zero(t, calls)
}

func TestFailedEffectRetriesNextTick(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 22:00"))
	markers := NewMemoryMarkers()
	var calls int32
	fail := true
	task := Task{Key: "alert", Period: Daily, Effect: func(context.Context, Run) error {
		atomic.AddInt32(&calls, 1)
		if fail {
			return errors.New("smtp down")
		}
		return nil
	}}
	obs := &recordingObserver{}
	engine, err := New(clk, StaticConfig{"alert": {TimeOfDay: "21:30", Enabled: true}}, markers, []Task{task}, Options{Observer: obs})
	require.NoError(t, err)

	out := engine.Poll(context.Background())
	assert.Equal(t, ResultFailed, out[0].Result)
	_, ok, _ := markers.Get(context.Background(), "alert")
	assert.False(t, ok)

	fail = false
	clk.Advance(time.Minute)
	out = engine.Poll(context.Background())
	assert.Equal(t, ResultFired, out[0].Result)
	period, ok, _ := markers.Get(context.Background(), "alert")
	assert.True(t, ok)
	assert.Equal(t, "2024-03-05", period)
	assert.Equal(t, int32(2), calls)
	assert.Equal(t, []string{"alert@2024-03-05"}, obs.failed)
	assert.Empty(t, obs.missed)
}

func TestFailureCarriedAcrossPeriodIsReportedMissed(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 23:50"))
	var calls int32
	obs := &recordingObserver{}
	engine, err := New(clk, StaticConfig{"alert": {TimeOfDay: "21:30", Enabled: true}}, NewMemoryMarkers(),
		[]Task{countingTask("alert", Daily, &calls, errors.New("broker unavailable"))}, Options{Observer: obs})
	require.NoError(t, err)

	engine.Poll(context.Background())
	clk.Set(at(t, "2024-03-06 00:05"))
	out := engine.Poll(context.Background())

	assert.Equal(t, ResultNotDue, out[0].Result)
	assert.Equal(t, []string{"alert@2024-03-05"}, obs.missed)
	assert.False(t, engine.Status()[0].PendingRetry)
}

func TestFailureSurvivesRestartAndIsReportedMissed(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 23:50"))
	markers := NewMemoryMarkers()
	cfg := StaticConfig{"alert": {TimeOfDay: "21:30", Enabled: true}}
	var calls int32
	first, err := New(clk, cfg, markers, []Task{countingTask("alert", Daily, &calls, errors.New("broker unavailable"))}, Options{})
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, first.Poll(context.Background())[0].Result)

	failure, ok, err := markers.GetFailure(context.Background(), "alert")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Failure{Period: "2024-03-05", Message: "broker unavailable"}, failure)

	// the process restarts after the window closed
	clk.Set(at(t, "2024-03-06 00:05"))
	obs := &recordingObserver{}
	second, err := New(clk, cfg, markers, []Task{countingTask("alert", Daily, &calls, nil)}, Options{Observer: obs})
	require.NoError(t, err)
	second.Poll(context.Background())

	assert.Equal(t, []string{"alert@2024-03-05"}, obs.missed)
	_, ok, err = markers.GetFailure(context.Background(), "alert")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetrySuccessClearsRecordedFailure(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 21:31"))
	markers := NewMemoryMarkers()
	var calls int32
	fail := true
	task := Task{Key: "alert", Period: Daily, Effect: func(context.Context, Run) error {
		atomic.AddInt32(&calls, 1)
		if fail {
			return errors.New("smtp down")
		}
		return nil
	}}
	engine, err := New(clk, StaticConfig{"alert": {TimeOfDay: "21:30", Enabled: true}}, markers, []Task{task}, Options{})
	require.NoError(t, err)

	engine.Poll(context.Background())
	fail = false
	assert.Equal(t, ResultFired, engine.Poll(context.Background())[0].Result)

	_, ok, err := markers.GetFailure(context.Background(), "alert")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 2, calls)
}

func TestMalformedTimeDisablesTaskAndLogsOnce(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 12:00"))
	cfg := StaticConfig{"reset": {TimeOfDay: "7h30", Enabled: true}}
	obs := &recordingObserver{}
	var calls int32
	engine, err := New(clk, cfg, NewMemoryMarkers(), []Task{countingTask("reset", Daily, &calls, nil)}, Options{Observer: obs})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out := engine.Poll(context.Background())
		assert.Equal(t, ResultConfigInvalid, out[0].Result)
	}
	assert.Equal(t, []string{"reset=7h30"}, obs.invalid)
	assert.Zero(t, calls)

	cfg["reset"] = TaskConfig{TimeOfDay: "07:30", Enabled: true}
	assert.Equal(t, ResultFired, engine.Poll(context.Background())[0].Result)
}

func TestDisabledTaskDoesNotFire(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 12:00"))
	var calls int32
	engine, err := New(clk, StaticConfig{"reset": {TimeOfDay: "07:30", Enabled: false}}, NewMemoryMarkers(),
		[]Task{countingTask("reset", Daily, &calls, nil)}, Options{})
	require.NoError(t, err)

	assert.Equal(t, ResultDisabled, engine.Poll(context.Background())[0].Result)
	assert.Zero(t, calls)
}

func TestMonthlyTaskFiresOnLastDayOnly(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-02-28 23:30"))
	var calls int32
	var seen Run
	task := Task{Key: "monthly-report", Period: Monthly, Effect: func(_ context.Context, run Run) error {
		atomic.AddInt32(&calls, 1)
		seen = run
		return nil
	}}
	markers := NewMemoryMarkers()
	engine, err := New(clk, StaticConfig{"monthly-report": {TimeOfDay: "23:00", Enabled: true}}, markers, []Task{task}, Options{})
	require.NoError(t, err)

	assert.Equal(t, ResultNotDue, engine.Poll(context.Background())[0].Result)

	clk.Set(at(t, "2024-02-29 22:59"))
	assert.Equal(t, ResultNotDue, engine.Poll(context.Background())[0].Result)

	clk.Set(at(t, "2024-02-29 23:00"))
	assert.Equal(t, ResultFired, engine.Poll(context.Background())[0].Result)
	assert.Equal(t, "2024-02", seen.Period)

	clk.Set(at(t, "2024-02-29 23:59"))
	assert.Equal(t, ResultAlreadyDone, engine.Poll(context.Background())[0].Result)
	assert.Equal(t, int32(1), calls)

	period, _, _ := markers.Get(context.Background(), "monthly-report")
	assert.Equal(t, "2024-02", period)
}

func TestMarkerWriteFailureDoesNotRefireInProcess(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 08:00"))
	markers := &failingMarkers{MemoryMarkers: NewMemoryMarkers(), setErr: errors.New("read-only")}
	var calls int32
	engine, err := New(clk, StaticConfig{"reset": {TimeOfDay: "07:30", Enabled: true}}, markers,
		[]Task{countingTask("reset", Daily, &calls, nil)}, Options{})
	require.NoError(t, err)

	engine.Poll(context.Background())
	clk.Advance(time.Minute)
	engine.Poll(context.Background())
	assert.Equal(t, int32(1), calls)
}

func TestTasksRunInDeclarationOrder(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 23:00"))
	var order []string
	mk := func(key string) Task {
		return Task{Key: key, Period: Daily, Effect: func(context.Context, Run) error {
			order = append(order, key)
			return nil
		}}
	}
	cfg := StaticConfig{
		"reset-critical": {TimeOfDay: "22:00", Enabled: true},
		"reset-standard": {TimeOfDay: "07:30", Enabled: true},
		"alert":          {TimeOfDay: "21:30", Enabled: true},
	}
	engine, err := New(clk, cfg, NewMemoryMarkers(), []Task{mk("reset-standard"), mk("reset-critical"), mk("alert")}, Options{})
	require.NoError(t, err)

	engine.Poll(context.Background())
	assert.Equal(t, []string{"reset-standard", "reset-critical", "alert"}, order)
}

func TestCancelledPollSkipsRemainingTasks(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 23:00"))
	ctx, cancel := context.WithCancel(context.Background())
	var second int32
	first := Task{Key: "first", Period: Daily, Effect: func(effectCtx context.Context, _ Run) error {
		cancel()
		return effectCtx.Err()
	}}
	cfg := StaticConfig{"first": {TimeOfDay: "07:00", Enabled: true}, "second": {TimeOfDay: "07:00", Enabled: true}}
	markers := NewMemoryMarkers()
	engine, err := New(clk, cfg, markers, []Task{first, countingTask("second", Daily, &second, nil)}, Options{})
	require.NoError(t, err)

	out := engine.Poll(ctx)
	assert.Equal(t, ResultFired, out[0].Result)
	assert.Equal(t, ResultCancelled, out[1].Result)
	assert.Zero(t, second)
	period, ok, _ := markers.Get(context.Background(), "first")
	assert.True(t, ok)
	assert.Equal(t, "2024-03-05", period)
}

func TestNewRejectsDuplicateKeys(t *testing.T) {
	noop := func(context.Context, Run) error { return nil }
	_, err := New(clock.NewFake(time.Now()), StaticConfig{}, NewMemoryMarkers(),
		[]Task{{Key: "a", Effect: noop}, {Key: "a", Effect: noop}}, Options{})
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestStartStop(t *testing.T) {
	clk := clock.NewFake(at(t, "2024-03-05 08:00"))
	var calls int32
	obs := &recordingObserver{}
	engine, err := New(clk, StaticConfig{"reset": {TimeOfDay: "07:30", Enabled: true}}, NewMemoryMarkers(),
		[]Task{countingTask("reset", Daily, &calls, nil)}, Options{Interval: 5 * time.Millisecond, Observer: obs})
	require.NoError(t, err)

	engine.Start(context.Background())
	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.ticks >= 3
	}, time.Second, 5*time.Millisecond)
	engine.Stop()
	engine.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
