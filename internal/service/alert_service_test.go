package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

type alertRepoStub struct {
	alerts    []*models.Alert
	lastQuery models.AlertFilter
	createErr error
}

func (r *alertRepoStub) Create(ctx context.Context, alert *models.Alert) (bool, error) {
	if r.createErr != nil {
		return false, r.createErr
	}
	for _, existing := range r.alerts {
		if alert.TaskKey != "" && existing.TaskKey == alert.TaskKey && existing.Period == alert.Period {
			return false, nil
		}
	}
	if alert.ID == "" {
		alert.ID = "a-" + alert.TaskKey
	}
	r.alerts = append(r.alerts, alert)
	return true, nil
}

func (r *alertRepoStub) List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	r.lastQuery = filter
	var out []models.Alert
	for _, a := range r.alerts {
		if !filter.IncludeAcked && a.AcknowledgedAt != nil {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (r *alertRepoStub) Acknowledge(ctx context.Context, id, userID string, at time.Time) error {
	for _, a := range r.alerts {
		if a.ID == id && a.AcknowledgedAt == nil {
			a.AcknowledgedBy = &userID
			a.AcknowledgedAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

type publisherStub struct {
	keys []string
	err  error
}

func (p *publisherStub) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *publisherStub) Close() error { return nil }

func TestAlertServiceRaisePublishes(t *testing.T) {
	repo := &alertRepoStub{}
	pub := &publisherStub{}
	now := at(2024, 3, 10, 18, 0)
	svc := NewAlertService(repo, pub, clock.NewFake(now), nil, nil)

	alert := &models.Alert{Kind: models.AlertKindPendingReview, TaskKey: TaskPendingAlertStandard, Period: "2024-03-10", Total: 2}
	require.NoError(t, svc.Raise(context.Background(), alert))
	assert.True(t, now.Equal(alert.CreatedAt))
	assert.Equal(t, []string{"alert.pending_review"}, pub.keys)
	require.Len(t, repo.alerts, 1)
}

func TestAlertServiceRaiseSkipsPublishForDuplicatePeriod(t *testing.T) {
	repo := &alertRepoStub{}
	pub := &publisherStub{}
	svc := NewAlertService(repo, pub, clock.NewFake(at(2024, 3, 10, 18, 0)), nil, nil)
	ctx := context.Background()

	first := &models.Alert{Kind: models.AlertKindPendingReview, TaskKey: TaskPendingAlertStandard, Period: "2024-03-10", Total: 2}
	require.NoError(t, svc.Raise(ctx, first))
	// the task runs again in the same period, e.g. after a restart
	again := &models.Alert{Kind: models.AlertKindPendingReview, TaskKey: TaskPendingAlertStandard, Period: "2024-03-10", Total: 2}
	require.NoError(t, svc.Raise(ctx, again))

	assert.Equal(t, []string{"alert.pending_review"}, pub.keys)
	assert.Len(t, repo.alerts, 1)
}

func TestAlertServiceRaiseSurvivesPublishFailure(t *testing.T) {
	repo := &alertRepoStub{}
	svc := NewAlertService(repo, &publisherStub{err: errors.New("channel closed")}, nil, nil, nil)

	require.NoError(t, svc.Raise(context.Background(), &models.Alert{Kind: models.AlertKindOverdueCourse, TaskKey: TaskOverdueAlert}))
	assert.Len(t, repo.alerts, 1)

	repo.createErr = errors.New("db down")
	assert.Error(t, svc.Raise(context.Background(), &models.Alert{Kind: models.AlertKindOverdueCourse}))
}

func TestAlertServiceListAndAcknowledge(t *testing.T) {
	repo := &alertRepoStub{}
	svc := NewAlertService(repo, nil, clock.NewFake(at(2024, 3, 10, 18, 0)), nil, nil)
	ctx := context.Background()
	require.NoError(t, svc.Raise(ctx, &models.Alert{Kind: models.AlertKindPendingReview, TaskKey: TaskPendingAlertCritical}))

	alerts, err := svc.List(ctx, dto.AlertQuery{Kind: "pending_review"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.NotNil(t, repo.lastQuery.Kind)
	assert.Equal(t, models.AlertKindPendingReview, *repo.lastQuery.Kind)

	require.NoError(t, svc.Acknowledge(ctx, alerts[0].ID, &models.JWTClaims{UserID: "u-1"}))
	alerts, err = svc.List(ctx, dto.AlertQuery{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.NotNil(t, alerts)

	err = svc.Acknowledge(ctx, "a-"+TaskPendingAlertCritical, &models.JWTClaims{UserID: "u-1"})
	assertAppErrorCode(t, err, appErrors.ErrNotFound.Code)

	err = svc.Acknowledge(ctx, "x", nil)
	assertAppErrorCode(t, err, appErrors.ErrUnauthorized.Code)

	_, err = svc.List(ctx, dto.AlertQuery{Kind: "other"})
	assertAppErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestBuildPreview(t *testing.T) {
	preview, overflow := buildPreview([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, preview)
	assert.Zero(t, overflow)

	preview, overflow = buildPreview([]string{"a", "b", "c", "d", "e"})
	assert.Equal(t, []string{"a", "b", "c"}, preview)
	assert.Equal(t, 2, overflow)
}
