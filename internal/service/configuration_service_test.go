package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	"github.com/noah-isme/atb-stewardship-api/pkg/config"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

type configurationRepoStub struct {
	items map[string]models.Configuration
	err   error
}

func (s *configurationRepoStub) ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	result := []models.Configuration{}
	for _, key := range keys {
		if cfg, ok := s.items[key]; ok {
			result = append(result, cfg)
		}
	}
	return result, nil
}

func (s *configurationRepoStub) Get(ctx context.Context, key string) (*models.Configuration, error) {
	if s.err != nil {
		return nil, s.err
	}
	if cfg, ok := s.items[key]; ok {
		return &cfg, nil
	}
	return nil, sql.ErrNoRows
}

func (s *configurationRepoStub) Upsert(ctx context.Context, cfg *models.Configuration) error {
	if s.err != nil {
		return s.err
	}
	if s.items == nil {
		s.items = make(map[string]models.Configuration)
	}
	s.items[cfg.Key] = *cfg
	return nil
}

func (s *configurationRepoStub) BulkUpsert(ctx context.Context, cfgs []models.Configuration) error {
	if s.err != nil {
		return s.err
	}
	if s.items == nil {
		s.items = make(map[string]models.Configuration)
	}
	for _, cfg := range cfgs {
		s.items[cfg.Key] = cfg
	}
	return nil
}

func (s *configurationRepoStub) Delete(ctx context.Context, key string) error {
	if s.err != nil {
		return s.err
	}
	delete(s.items, key)
	return nil
}

type auditLoggerStub struct {
	logs []*models.AuditLog
}

func (a *auditLoggerStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newConfigurationServiceForTest(repo *configurationRepoStub, defaults map[string]string) (*ConfigurationService, *auditLoggerStub) {
	audit := &auditLoggerStub{}
	return NewConfigurationService(repo, audit, validator.New(), nil, ConfigurationServiceConfig{Defaults: defaults}), audit
}

func TestConfigurationServiceUpdateBoolean(t *testing.T) {
	service, audit := newConfigurationServiceForTest(&configurationRepoStub{}, nil)
	item, err := service.Update(context.Background(), models.ConfigDayLockEnabled, "TRUE", &models.JWTClaims{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "true", item.Value)
	assert.Equal(t, "BOOLEAN", item.Type)
	assert.Equal(t, dto.ConfigSourceStored, item.Source)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionConfigUpdate, audit.logs[0].Action)
}

func TestConfigurationServiceUpdateNormalisesTime(t *testing.T) {
	repo := &configurationRepoStub{}
	service, _ := newConfigurationServiceForTest(repo, nil)
	item, err := service.Update(context.Background(), models.ConfigResetStandardTime, " 7:05 ", &models.JWTClaims{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "07:05", item.Value)
	assert.Equal(t, "07:05", repo.items[models.ConfigResetStandardTime].Value)
}

func TestConfigurationServiceUpdateRejectsMalformedTime(t *testing.T) {
	repo := &configurationRepoStub{}
	service, _ := newConfigurationServiceForTest(repo, nil)
	for _, value := range []string{"25:00", "7", "07:5", "noon"} {
		_, err := service.Update(context.Background(), models.ConfigMonthlyReportTime, value, &models.JWTClaims{UserID: "admin"})
		require.Error(t, err, value)
		assert.Equal(t, appErrors.ErrInvalidSchedule.Code, appErrors.FromError(err).Code)
	}
	assert.Empty(t, repo.items)
}

func TestConfigurationServiceUpdateEmail(t *testing.T) {
	service, _ := newConfigurationServiceForTest(&configurationRepoStub{}, nil)
	_, err := service.Update(context.Background(), models.ConfigReportEmail, "not-an-email", &models.JWTClaims{UserID: "admin"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	item, err := service.Update(context.Background(), models.ConfigReportEmail, "ccih@hospital.org", &models.JWTClaims{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "ccih@hospital.org", item.Value)
}

func TestConfigurationServiceUpdateInvalidKey(t *testing.T) {
	service, _ := newConfigurationServiceForTest(&configurationRepoStub{}, nil)
	_, err := service.Update(context.Background(), "unknown_key", "abc", &models.JWTClaims{UserID: "admin"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestConfigurationServiceBulkUpdateRollbackOnValidation(t *testing.T) {
	repo := &configurationRepoStub{}
	service, _ := newConfigurationServiceForTest(repo, nil)
	req := dto.BulkUpdateConfigurationRequest{
		Items: []dto.UpdateConfigurationRequest{
			{Key: models.ConfigResetCriticalEnabled, Value: "true"},
			{Key: "unknown", Value: "value"},
		},
	}
	_, err := service.BulkUpdate(context.Background(), req, &models.JWTClaims{UserID: "admin"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Len(t, repo.items, 0)
}

func TestConfigurationServiceListMergesDefaults(t *testing.T) {
	repo := &configurationRepoStub{
		items: map[string]models.Configuration{
			models.ConfigResetStandardTime: {Key: models.ConfigResetStandardTime, Value: "06:00", Type: models.ConfigurationTypeTime},
			"other_key":                    {Key: "other_key", Value: "secret", Type: models.ConfigurationTypeString},
		},
	}
	service, _ := newConfigurationServiceForTest(repo, map[string]string{models.ConfigResetCriticalTime: "22:00"})
	items, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, len(allowedConfigurationKeys))

	byKey := map[string]dto.ConfigurationItem{}
	for _, item := range items {
		if item.Key == "other_key" {
			t.Fatalf("unexpected key returned: %s", item.Key)
		}
		byKey[item.Key] = item
	}
	assert.Equal(t, "06:00", byKey[models.ConfigResetStandardTime].Value)
	assert.Equal(t, dto.ConfigSourceStored, byKey[models.ConfigResetStandardTime].Source)
	assert.Equal(t, "22:00", byKey[models.ConfigResetCriticalTime].Value)
	assert.Equal(t, dto.ConfigSourceDefault, byKey[models.ConfigResetCriticalTime].Source)
}

func TestConfigurationServiceUpdateHandlesRepoError(t *testing.T) {
	service, _ := newConfigurationServiceForTest(&configurationRepoStub{err: errors.New("db down")}, nil)
	_, err := service.Update(context.Background(), models.ConfigHospitalName, "Hospital Regional", &models.JWTClaims{UserID: "admin"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestConfigurationServiceGetWithoutValue(t *testing.T) {
	service, _ := newConfigurationServiceForTest(&configurationRepoStub{}, nil)
	_, err := service.Get(context.Background(), models.ConfigHospitalName)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestConfigurationServiceResetRestoresDefault(t *testing.T) {
	repo := &configurationRepoStub{items: map[string]models.Configuration{
		models.ConfigOverdueAlertTime: {Key: models.ConfigOverdueAlertTime, Value: "09:15", Type: models.ConfigurationTypeTime},
	}}
	service, audit := newConfigurationServiceForTest(repo, map[string]string{models.ConfigOverdueAlertTime: "08:00"})

	item, err := service.Reset(context.Background(), models.ConfigOverdueAlertTime, &models.JWTClaims{UserID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "08:00", item.Value)
	assert.Equal(t, dto.ConfigSourceDefault, item.Source)
	assert.NotContains(t, repo.items, models.ConfigOverdueAlertTime)
	require.Len(t, audit.logs, 1)
}

func TestConfigurationServiceTaskConfig(t *testing.T) {
	repo := &configurationRepoStub{items: map[string]models.Configuration{
		models.ConfigPendingAlertCriticalTime:   {Key: models.ConfigPendingAlertCriticalTime, Value: "13:30"},
		models.ConfigPendingAlertCriticalEnable: {Key: models.ConfigPendingAlertCriticalEnable, Value: "false"},
	}}
	cfg := &config.Config{Scheduler: config.SchedulerConfig{
		PendingAlertCriticalTime:    "13:00",
		PendingAlertCriticalEnabled: true,
		ResetStandardTime:           "07:30",
		ResetStandardEnabled:        true,
	}}
	service, _ := newConfigurationServiceForTest(repo, ConfigurationDefaults(cfg))

	taskCfg, err := service.TaskConfig(context.Background(), TaskPendingAlertCritical)
	require.NoError(t, err)
	assert.Equal(t, "13:30", taskCfg.TimeOfDay)
	assert.False(t, taskCfg.Enabled)

	taskCfg, err = service.TaskConfig(context.Background(), TaskResetStandard)
	require.NoError(t, err)
	assert.Equal(t, "07:30", taskCfg.TimeOfDay)
	assert.True(t, taskCfg.Enabled)

	_, err = service.TaskConfig(context.Background(), "reset-all")
	assert.Error(t, err)
}

func TestConfigurationServiceTaskConfigPassesMalformedTime(t *testing.T) {
	repo := &configurationRepoStub{items: map[string]models.Configuration{
		models.ConfigMonthlyReportTime: {Key: models.ConfigMonthlyReportTime, Value: "23h"},
	}}
	service, _ := newConfigurationServiceForTest(repo, map[string]string{models.ConfigMonthlyReportEnabled: "true"})

	taskCfg, err := service.TaskConfig(context.Background(), TaskMonthlyReport)
	require.NoError(t, err)
	assert.Equal(t, "23h", taskCfg.TimeOfDay)
	assert.True(t, taskCfg.Enabled)
}

func TestConfigurationServiceTherapyPolicy(t *testing.T) {
	repo := &configurationRepoStub{items: map[string]models.Configuration{
		models.ConfigRolloverCritical: {Key: models.ConfigRolloverCritical, Value: "22:00"},
		models.ConfigDayLockEnabled:   {Key: models.ConfigDayLockEnabled, Value: "false"},
	}}
	service, _ := newConfigurationServiceForTest(repo, nil)

	policy, err := service.TherapyPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clock.Midnight, policy.RolloverStandard)
	assert.Equal(t, clock.MustParseTimeOfDay("22:00"), policy.RolloverCritical)
	assert.False(t, policy.DayLock)
}

func TestConfigurationServiceTherapyPolicyRepoError(t *testing.T) {
	service, _ := newConfigurationServiceForTest(&configurationRepoStub{err: errors.New("db down")}, nil)
	_, err := service.TherapyPolicy(context.Background())
	assert.Error(t, err)
}
