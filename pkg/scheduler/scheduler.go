package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
)

// Period is the recurrence unit of a task.
type Period int

const (
	// Daily tasks fire once per calendar date.
	Daily Period = iota
	// Monthly tasks fire once per year-month, on its last day.
	Monthly
)

// String implements fmt.Stringer.
func (p Period) String() string {
	switch p {
	case Daily:
		return "daily"
	case Monthly:
		return "monthly"
	default:
		return fmt.Sprintf("period(%d)", int(p))
	}
}

// Key renders the period identifier containing now.
func (p Period) Key(now time.Time) string {
	if p == Monthly {
		return clock.MonthKey(now)
	}
	return clock.DateKey(now)
}

// Due reports whether a task of this period scheduled at the given time should fire at now.
func (p Period) Due(now time.Time, at clock.TimeOfDay) bool {
	if !at.Reached(now) {
		return false
	}
	if p == Monthly {
		return clock.IsLastDayOfMonth(now)
	}
	return true
}

// TaskConfig is the runtime-editable schedule of a task.
type TaskConfig struct {
	TimeOfDay string
	Enabled   bool
}

// ConfigSource resolves the current schedule of a task. It is consulted on every tick.
type ConfigSource interface {
	TaskConfig(ctx context.Context, taskKey string) (TaskConfig, error)
}

// MarkerStore persists the last period each task completed in.
type MarkerStore interface {
	Get(ctx context.Context, taskKey string) (period string, ok bool, err error)
	Set(ctx context.Context, taskKey, period string) error
}

// Failure is a period whose effect failed and has not succeeded since.
type Failure struct {
	Period  string
	Message string
}

// FailureStore is optionally implemented by a MarkerStore. Pending failures
// then survive a restart, and a window that closed meanwhile is still reported missed.
type FailureStore interface {
	GetFailure(ctx context.Context, taskKey string) (Failure, bool, error)
	SetFailure(ctx context.Context, taskKey string, failure Failure) error
	ClearFailure(ctx context.Context, taskKey string) error
}

// Run describes one effect invocation.
type Run struct {
	TaskKey string
	Period  string
	Now     time.Time
}

// Effect performs the work of a task. A non-nil error leaves the period unmarked.
type Effect func(ctx context.Context, run Run) error

// Task binds a key and recurrence to an effect.
type Task struct {
	Key    string
	Period Period
	Effect Effect
}

// Result classifies what happened to a task during a tick.
type Result string

const (
	ResultFired         Result = "fired"
	ResultFailed        Result = "failed"
	ResultNotDue        Result = "not_due"
	ResultAlreadyDone   Result = "already_done"
	ResultDisabled      Result = "disabled"
	ResultConfigInvalid Result = "config_invalid"
	ResultUnavailable   Result = "unavailable"
	ResultCancelled     Result = "cancelled"
)

// Outcome is the per-task record of a tick.
type Outcome struct {
	TaskKey string
	Period  string
	Result  Result
	Err     error
}

// TaskStatus is a point-in-time view of a task for diagnostics.
type TaskStatus struct {
	TaskKey      string    `json:"taskKey"`
	Period       string    `json:"period"`
	LastPeriod   string    `json:"lastPeriod,omitempty"`
	LastRunAt    time.Time `json:"lastRunAt,omitempty"`
	PendingRetry bool      `json:"pendingRetry"`
	LastError    string    `json:"lastError,omitempty"`
}

// Observer receives engine events. Implementations must be safe for concurrent use.
type Observer interface {
	TaskFired(taskKey, period string, elapsed time.Duration)
	TaskFailed(taskKey, period string, err error)
	TaskMissed(taskKey, period string, lastErr error)
	ConfigInvalid(taskKey, value string, err error)
	TickCompleted(elapsed time.Duration)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) TaskFired(string, string, time.Duration) {}
func (NopObserver) TaskFailed(string, string, error)        {}
func (NopObserver) TaskMissed(string, string, error)        {}
func (NopObserver) ConfigInvalid(string, string, error)     {}
func (NopObserver) TickCompleted(time.Duration)             {}

// Options tunes the engine.
type Options struct {
	Interval time.Duration
	Logger   *zap.Logger
	Observer Observer
}

type taskState struct {
	done       string
	failed     string
	lastErr    error
	lastRunAt  time.Time
	badValue   string
	badLogged  bool
	lastMarker string
	restored   bool
}

// Engine evaluates tasks on a fixed interval and fires each at most once per period.
type Engine struct {
	clock    clock.Clock
	configs  ConfigSource
	markers  MarkerStore
	failures FailureStore
	tasks    []Task
	interval time.Duration
	logger   *zap.Logger
	observer Observer

	tickMu sync.Mutex
	state  map[string]*taskState

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// ErrInvalidTask reports a task list that cannot be scheduled.
var ErrInvalidTask = errors.New("scheduler: invalid task")

// New validates the task list and builds an engine. Tasks are evaluated in the given order.
func New(clk clock.Clock, configs ConfigSource, markers MarkerStore, tasks []Task, opts Options) (*Engine, error) {
	if clk == nil || configs == nil || markers == nil {
		return nil, fmt.Errorf("%w: clock, config source and marker store are required", ErrInvalidTask)
	}
	seen := make(map[string]struct{}, len(tasks))
	state := make(map[string]*taskState, len(tasks))
	for _, task := range tasks {
		if task.Key == "" || task.Effect == nil {
			return nil, fmt.Errorf("%w: task %q needs a key and an effect", ErrInvalidTask, task.Key)
		}
		if _, dup := seen[task.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidTask, task.Key)
		}
		seen[task.Key] = struct{}{}
		state[task.Key] = &taskState{}
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	failures, _ := markers.(FailureStore)
	return &Engine{
		clock:    clk,
		configs:  configs,
		markers:  markers,
		failures: failures,
		tasks:    append([]Task(nil), tasks...),
		interval: opts.Interval,
		logger:   opts.Logger,
		observer: opts.Observer,
		state:    state,
	}, nil
}

// Interval exposes the polling interval.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// Poll runs a single evaluation pass over all tasks. Concurrent calls are serialized.
func (e *Engine) Poll(ctx context.Context) []Outcome {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	started := time.Now()
	now := e.clock.Now()
	outcomes := make([]Outcome, 0, len(e.tasks))
	for _, task := range e.tasks {
		if ctx.Err() != nil {
			outcomes = append(outcomes, Outcome{TaskKey: task.Key, Period: task.Period.Key(now), Result: ResultCancelled})
			continue
		}
		outcomes = append(outcomes, e.evaluate(ctx, task, now))
	}
	e.observer.TickCompleted(time.Since(started))
	return outcomes
}

func (e *Engine) evaluate(ctx context.Context, task Task, now time.Time) Outcome {
	st := e.state[task.Key]
	period := task.Period.Key(now)
	out := Outcome{TaskKey: task.Key, Period: period}

	e.restoreFailure(ctx, task.Key, st)
	if st.failed != "" && st.failed != period {
		e.logger.Warn("scheduled task missed its period",
			zap.String("task", task.Key), zap.String("period", st.failed), zap.Error(st.lastErr))
		e.observer.TaskMissed(task.Key, st.failed, st.lastErr)
		st.failed = ""
		st.lastErr = nil
		e.clearFailure(ctx, task.Key)
	}

	cfg, err := e.configs.TaskConfig(ctx, task.Key)
	if err != nil {
		e.logger.Warn("task config unavailable", zap.String("task", task.Key), zap.Error(err))
		out.Result, out.Err = ResultUnavailable, err
		return out
	}
	if !cfg.Enabled {
		out.Result = ResultDisabled
		return out
	}
	at, err := clock.ParseTimeOfDay(cfg.TimeOfDay)
	if err != nil {
		if !st.badLogged || st.badValue != cfg.TimeOfDay {
			e.logger.Error("task disabled by malformed time of day",
				zap.String("task", task.Key), zap.String("value", cfg.TimeOfDay), zap.Error(err))
			e.observer.ConfigInvalid(task.Key, cfg.TimeOfDay, err)
			st.badValue, st.badLogged = cfg.TimeOfDay, true
		}
		out.Result, out.Err = ResultConfigInvalid, err
		return out
	}
	st.badValue, st.badLogged = "", false

	if st.done == period {
		out.Result = ResultAlreadyDone
		return out
	}
	marker, ok, err := e.markers.Get(ctx, task.Key)
	if err != nil {
		e.logger.Warn("task marker unavailable", zap.String("task", task.Key), zap.Error(err))
		out.Result, out.Err = ResultUnavailable, err
		return out
	}
	if ok {
		st.lastMarker = marker
		if marker == period {
			st.done = period
			out.Result = ResultAlreadyDone
			return out
		}
	}
	if !task.Period.Due(now, at) {
		out.Result = ResultNotDue
		return out
	}

	// effects run to completion even if the engine is stopping
	effectCtx := context.WithoutCancel(ctx)
	begin := time.Now()
	st.lastRunAt = now
	if err := task.Effect(effectCtx, Run{TaskKey: task.Key, Period: period, Now: now}); err != nil {
		if st.failed != period && e.failures != nil {
			if serr := e.failures.SetFailure(effectCtx, task.Key, Failure{Period: period, Message: err.Error()}); serr != nil {
				e.logger.Warn("failed to record task failure", zap.String("task", task.Key), zap.Error(serr))
			}
		}
		st.failed, st.lastErr = period, err
		e.logger.Error("scheduled task failed",
			zap.String("task", task.Key), zap.String("period", period), zap.Error(err))
		e.observer.TaskFailed(task.Key, period, err)
		out.Result, out.Err = ResultFailed, err
		return out
	}

	st.done = period
	if st.failed != "" {
		e.clearFailure(effectCtx, task.Key)
	}
	st.failed, st.lastErr = "", nil
	if err := e.markers.Set(effectCtx, task.Key, period); err != nil {
		e.logger.Error("failed to persist task marker",
			zap.String("task", task.Key), zap.String("period", period), zap.Error(err))
	} else {
		st.lastMarker = period
	}
	elapsed := time.Since(begin)
	e.logger.Info("scheduled task fired",
		zap.String("task", task.Key), zap.String("period", period), zap.Duration("elapsed", elapsed))
	e.observer.TaskFired(task.Key, period, elapsed)
	out.Result = ResultFired
	return out
}

// restoreFailure loads a failure recorded before a restart, once per task.
func (e *Engine) restoreFailure(ctx context.Context, taskKey string, st *taskState) {
	if e.failures == nil || st.restored {
		return
	}
	failure, ok, err := e.failures.GetFailure(ctx, taskKey)
	if err != nil {
		e.logger.Warn("task failure record unavailable", zap.String("task", taskKey), zap.Error(err))
		return
	}
	st.restored = true
	if ok && st.failed == "" {
		st.failed = failure.Period
		st.lastErr = errors.New(failure.Message)
	}
}

func (e *Engine) clearFailure(ctx context.Context, taskKey string) {
	if e.failures == nil {
		return
	}
	if err := e.failures.ClearFailure(ctx, taskKey); err != nil {
		e.logger.Warn("failed to clear task failure", zap.String("task", taskKey), zap.Error(err))
	}
}

// Status reports the last known state of every task.
func (e *Engine) Status() []TaskStatus {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.clock.Now()
	statuses := make([]TaskStatus, 0, len(e.tasks))
	for _, task := range e.tasks {
		st := e.state[task.Key]
		status := TaskStatus{
			TaskKey:      task.Key,
			Period:       task.Period.Key(now),
			LastPeriod:   st.lastMarker,
			LastRunAt:    st.lastRunAt,
			PendingRetry: st.failed != "",
		}
		if st.done != "" {
			status.LastPeriod = st.done
		}
		if st.lastErr != nil {
			status.LastError = st.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Start launches the polling loop. The first tick runs immediately. Safe to call once.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go e.loop(runCtx)
	e.started = true
	e.logger.Info("scheduler started", zap.Int("tasks", len(e.tasks)), zap.Duration("interval", e.interval))
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.started = false
	e.mu.Unlock()
	e.wg.Wait()
	e.logger.Info("scheduler stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	e.Poll(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Poll(ctx)
		}
	}
}
