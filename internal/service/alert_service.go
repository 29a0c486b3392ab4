package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/broker"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

type alertRepository interface {
	Create(ctx context.Context, alert *models.Alert) (bool, error)
	List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	Acknowledge(ctx context.Context, id, userID string, at time.Time) error
}

// AlertService stores raised notices and fans them out to the broker.
type AlertService struct {
	repo      alertRepository
	publisher broker.Publisher
	clock     clock.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAlertService constructs the service. A nil publisher disables fan-out.
func NewAlertService(repo alertRepository, publisher broker.Publisher, clk clock.Clock, validate *validator.Validate, logger *zap.Logger) *AlertService {
	if publisher == nil {
		publisher = broker.Noop{}
	}
	if clk == nil {
		clk = clock.NewSystem(time.UTC)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertService{repo: repo, publisher: publisher, clock: clk, validator: validate, logger: logger}
}

// Raise persists an alert and publishes it. A publish failure does not undo the alert.
func (s *AlertService) Raise(ctx context.Context, alert *models.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.clock.Now()
	}
	created, err := s.repo.Create(ctx, alert)
	if err != nil {
		return fmt.Errorf("store alert: %w", err)
	}
	if !created {
		s.logger.Info("alert already raised for period",
			zap.String("task", alert.TaskKey),
			zap.String("period", alert.Period),
		)
		return nil
	}
	routingKey := "alert." + string(alert.Kind)
	if err := s.publisher.Publish(ctx, routingKey, alert); err != nil {
		s.logger.Warn("alert publish failed",
			zap.String("alert_id", alert.ID),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
	s.logger.Info("alert raised",
		zap.String("kind", string(alert.Kind)),
		zap.String("task", alert.TaskKey),
		zap.String("period", alert.Period),
		zap.Int("total", alert.Total),
	)
	return nil
}

// List returns alerts for the board.
func (s *AlertService) List(ctx context.Context, query dto.AlertQuery) ([]models.Alert, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid alert filter")
	}
	filter := models.AlertFilter{IncludeAcked: query.IncludeAcked, Limit: query.Limit}
	if query.Kind != "" {
		kind := models.AlertKind(query.Kind)
		filter.Kind = &kind
	}
	alerts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list alerts")
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts, nil
}

// Acknowledge dismisses an open alert.
func (s *AlertService) Acknowledge(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil || actor.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.Acknowledge(ctx, id, actor.UserID, s.clock.Now()); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "alert not found or already acknowledged")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acknowledge alert")
	}
	return nil
}

// buildPreview caps a name list at the preview limit and counts the rest.
func buildPreview(names []string) ([]string, int) {
	if len(names) <= models.AlertPreviewLimit {
		preview := make([]string, len(names))
		copy(preview, names)
		return preview, 0
	}
	preview := make([]string, models.AlertPreviewLimit)
	copy(preview, names[:models.AlertPreviewLimit])
	return preview, len(names) - models.AlertPreviewLimit
}
