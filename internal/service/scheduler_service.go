package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	"github.com/noah-isme/atb-stewardship-api/pkg/scheduler"
)

type schedulerEngine interface {
	Poll(ctx context.Context) []scheduler.Outcome
	Status() []scheduler.TaskStatus
	Interval() time.Duration
}

// SchedulerService exposes the housekeeping engine to operators.
type SchedulerService struct {
	engine   schedulerEngine
	configs  scheduler.ConfigSource
	clock    clock.Clock
	timezone string
	logger   *zap.Logger
}

// NewSchedulerService constructs the service.
func NewSchedulerService(engine schedulerEngine, configs scheduler.ConfigSource, clk clock.Clock, timezone string, logger *zap.Logger) *SchedulerService {
	if clk == nil {
		clk = clock.NewSystem(time.UTC)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulerService{engine: engine, configs: configs, clock: clk, timezone: timezone, logger: logger}
}

// Status joins the engine's runtime state with the live task configuration.
func (s *SchedulerService) Status(ctx context.Context) dto.SchedulerStatusResponse {
	statuses := s.engine.Status()
	resp := dto.SchedulerStatusResponse{
		Now:      s.clock.Now(),
		Timezone: s.timezone,
		Interval: s.engine.Interval().String(),
		Tasks:    make([]dto.SchedulerTaskStatus, 0, len(statuses)),
	}
	for _, st := range statuses {
		item := dto.SchedulerTaskStatus{
			TaskKey:      st.TaskKey,
			Period:       st.Period,
			LastPeriod:   st.LastPeriod,
			PendingRetry: st.PendingRetry,
			LastError:    st.LastError,
		}
		if !st.LastRunAt.IsZero() {
			at := st.LastRunAt
			item.LastRunAt = &at
		}
		if s.configs != nil {
			cfg, err := s.configs.TaskConfig(ctx, st.TaskKey)
			if err != nil {
				item.ConfigError = err.Error()
			} else {
				item.TimeOfDay = cfg.TimeOfDay
				item.Enabled = cfg.Enabled
			}
		}
		resp.Tasks = append(resp.Tasks, item)
	}
	return resp
}

// Poll runs one tick now. Ticks never overlap; a manual poll waits for a running one.
func (s *SchedulerService) Poll(ctx context.Context, actor *models.JWTClaims) []dto.SchedulerPollOutcome {
	outcomes := s.engine.Poll(ctx)
	resp := make([]dto.SchedulerPollOutcome, 0, len(outcomes))
	for _, out := range outcomes {
		item := dto.SchedulerPollOutcome{TaskKey: out.TaskKey, Period: out.Period, Result: string(out.Result)}
		if out.Err != nil {
			item.Error = out.Err.Error()
		}
		resp = append(resp, item)
	}
	requestedBy := ""
	if actor != nil {
		requestedBy = actor.UserID
	}
	s.logger.Info("manual scheduler poll", zap.String("requested_by", requestedBy), zap.Int("tasks", len(resp)))
	return resp
}
