package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/internal/dto"
	"github.com/noah-isme/atb-stewardship-api/internal/models"
	"github.com/noah-isme/atb-stewardship-api/pkg/clock"
	"github.com/noah-isme/atb-stewardship-api/pkg/config"
	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
	"github.com/noah-isme/atb-stewardship-api/pkg/scheduler"
)

type configurationRepository interface {
	ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error)
	Get(ctx context.Context, key string) (*models.Configuration, error)
	Upsert(ctx context.Context, cfg *models.Configuration) error
	BulkUpsert(ctx context.Context, cfgs []models.Configuration) error
	Delete(ctx context.Context, key string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type allowedConfiguration struct {
	Key         string
	Type        models.ConfigurationType
	Description string
}

var allowedConfigurationKeys = []string{
	models.ConfigResetStandardTime,
	models.ConfigResetStandardEnabled,
	models.ConfigResetCriticalTime,
	models.ConfigResetCriticalEnabled,
	models.ConfigPendingAlertStandardTime,
	models.ConfigPendingAlertStandardEnable,
	models.ConfigPendingAlertCriticalTime,
	models.ConfigPendingAlertCriticalEnable,
	models.ConfigOverdueAlertTime,
	models.ConfigOverdueAlertEnabled,
	models.ConfigMonthlyReportTime,
	models.ConfigMonthlyReportEnabled,
	models.ConfigRolloverStandard,
	models.ConfigRolloverCritical,
	models.ConfigDayLockEnabled,
	models.ConfigReportEmail,
	models.ConfigHospitalName,
}

var allowedConfigurations = map[string]allowedConfiguration{
	models.ConfigResetStandardTime:          {Type: models.ConfigurationTypeTime, Description: "Time the evaluation flags of standard units are cleared"},
	models.ConfigResetStandardEnabled:       {Type: models.ConfigurationTypeBoolean, Description: "Clear evaluation flags of standard units daily"},
	models.ConfigResetCriticalTime:          {Type: models.ConfigurationTypeTime, Description: "Time the evaluation flags of critical-care units are cleared"},
	models.ConfigResetCriticalEnabled:       {Type: models.ConfigurationTypeBoolean, Description: "Clear evaluation flags of critical-care units daily"},
	models.ConfigPendingAlertStandardTime:   {Type: models.ConfigurationTypeTime, Description: "Time unevaluated standard-unit patients are announced"},
	models.ConfigPendingAlertStandardEnable: {Type: models.ConfigurationTypeBoolean, Description: "Announce unevaluated standard-unit patients"},
	models.ConfigPendingAlertCriticalTime:   {Type: models.ConfigurationTypeTime, Description: "Time unevaluated critical-care patients are announced"},
	models.ConfigPendingAlertCriticalEnable: {Type: models.ConfigurationTypeBoolean, Description: "Announce unevaluated critical-care patients"},
	models.ConfigOverdueAlertTime:           {Type: models.ConfigurationTypeTime, Description: "Time courses past their planned duration are announced"},
	models.ConfigOverdueAlertEnabled:        {Type: models.ConfigurationTypeBoolean, Description: "Announce courses past their planned duration"},
	models.ConfigMonthlyReportTime:          {Type: models.ConfigurationTypeTime, Description: "Time on the last day of the month the report is generated"},
	models.ConfigMonthlyReportEnabled:       {Type: models.ConfigurationTypeBoolean, Description: "Generate the monthly stewardship report"},
	models.ConfigRolloverStandard:           {Type: models.ConfigurationTypeTime, Description: "Time the day of therapy advances in standard units"},
	models.ConfigRolloverCritical:           {Type: models.ConfigurationTypeTime, Description: "Time the day of therapy advances in critical-care units"},
	models.ConfigDayLockEnabled:             {Type: models.ConfigurationTypeBoolean, Description: "Hold manually edited days until the next rollover"},
	models.ConfigReportEmail:                {Type: models.ConfigurationTypeEmail, Description: "Recipient of the monthly report"},
	models.ConfigHospitalName:               {Type: models.ConfigurationTypeString, Description: "Hospital name printed on reports"},
}

// taskConfigKeys maps each housekeeping task to its time and toggle settings.
var taskConfigKeys = map[string][2]string{
	TaskResetStandard:        {models.ConfigResetStandardTime, models.ConfigResetStandardEnabled},
	TaskResetCritical:        {models.ConfigResetCriticalTime, models.ConfigResetCriticalEnabled},
	TaskPendingAlertStandard: {models.ConfigPendingAlertStandardTime, models.ConfigPendingAlertStandardEnable},
	TaskPendingAlertCritical: {models.ConfigPendingAlertCriticalTime, models.ConfigPendingAlertCriticalEnable},
	TaskOverdueAlert:         {models.ConfigOverdueAlertTime, models.ConfigOverdueAlertEnabled},
	TaskMonthlyReport:        {models.ConfigMonthlyReportTime, models.ConfigMonthlyReportEnabled},
}

// ConfigurationServiceConfig tunes runtime behaviour.
type ConfigurationServiceConfig struct {
	Defaults map[string]string
}

// ConfigurationDefaults seeds every setting from the process configuration.
func ConfigurationDefaults(cfg *config.Config) map[string]string {
	if cfg == nil {
		return nil
	}
	s := cfg.Scheduler
	return map[string]string{
		models.ConfigResetStandardTime:          s.ResetStandardTime,
		models.ConfigResetStandardEnabled:       strconv.FormatBool(s.ResetStandardEnabled),
		models.ConfigResetCriticalTime:          s.ResetCriticalTime,
		models.ConfigResetCriticalEnabled:       strconv.FormatBool(s.ResetCriticalEnabled),
		models.ConfigPendingAlertStandardTime:   s.PendingAlertStandardTime,
		models.ConfigPendingAlertStandardEnable: strconv.FormatBool(s.PendingAlertStandardEnabled),
		models.ConfigPendingAlertCriticalTime:   s.PendingAlertCriticalTime,
		models.ConfigPendingAlertCriticalEnable: strconv.FormatBool(s.PendingAlertCriticalEnabled),
		models.ConfigOverdueAlertTime:           s.OverdueAlertTime,
		models.ConfigOverdueAlertEnabled:        strconv.FormatBool(s.OverdueAlertEnabled),
		models.ConfigMonthlyReportTime:          s.MonthlyReportTime,
		models.ConfigMonthlyReportEnabled:       strconv.FormatBool(s.MonthlyReportEnabled),
		models.ConfigRolloverStandard:           cfg.Therapy.RolloverStandard,
		models.ConfigRolloverCritical:           cfg.Therapy.RolloverCritical,
		models.ConfigDayLockEnabled:             strconv.FormatBool(cfg.Therapy.DayLock),
		models.ConfigReportEmail:                cfg.Reports.Recipient,
		models.ConfigHospitalName:               cfg.Reports.HospitalName,
	}
}

// ConfigurationService manages the operator-editable settings and resolves
// schedules and therapy policy from them on every read.
type ConfigurationService struct {
	repo      configurationRepository
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	defaults  map[string]string
}

// NewConfigurationService constructs a ConfigurationService.
func NewConfigurationService(repo configurationRepository, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg ConfigurationServiceConfig) *ConfigurationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := map[string]string{
		models.ConfigRolloverStandard: clock.Midnight.String(),
		models.ConfigRolloverCritical: clock.Midnight.String(),
		models.ConfigDayLockEnabled:   "true",
	}
	for key, value := range cfg.Defaults {
		if value == "" {
			continue
		}
		defaults[key] = value
	}
	return &ConfigurationService{
		repo:      repo,
		audit:     audit,
		validator: validate,
		logger:    logger,
		defaults:  defaults,
	}
}

// List returns every allowed setting, stored or default.
func (s *ConfigurationService) List(ctx context.Context) ([]dto.ConfigurationItem, error) {
	values, err := s.load(ctx, allowedConfigurationKeys)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list configurations")
	}
	items := make([]dto.ConfigurationItem, 0, len(allowedConfigurationKeys))
	for _, key := range allowedConfigurationKeys {
		items = append(items, values[key])
	}
	return items, nil
}

// Get retrieves a single setting.
func (s *ConfigurationService) Get(ctx context.Context, key string) (*dto.ConfigurationItem, error) {
	if _, err := s.requireAllowedKey(key); err != nil {
		return nil, err
	}
	values, err := s.load(ctx, []string{key})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get configuration")
	}
	item := values[key]
	if item.Source == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "configuration not found")
	}
	return &item, nil
}

// Update validates and stores a setting. The new value applies on the next scheduler tick.
func (s *ConfigurationService) Update(ctx context.Context, key string, value string, actor *models.JWTClaims) (*dto.ConfigurationItem, error) {
	meta, err := s.requireAllowedKey(key)
	if err != nil {
		return nil, err
	}
	value, err = s.validateValue(meta, value)
	if err != nil {
		return nil, err
	}

	prev, err := s.repo.Get(ctx, key)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch configuration")
	}

	cfg := &models.Configuration{
		Key:         key,
		Value:       value,
		Type:        meta.Type,
		Description: strPtr(meta.Description),
		UpdatedBy:   userIDPtr(actor),
	}
	if err := s.repo.Upsert(ctx, cfg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update configuration")
	}

	s.emitAudit(ctx, actor, key, prevValue(prev), value)

	return &dto.ConfigurationItem{
		Key:         key,
		Value:       value,
		Type:        string(meta.Type),
		Description: meta.Description,
		Source:      dto.ConfigSourceStored,
	}, nil
}

// BulkUpdate applies multiple updates transactionally. Nothing is stored if any item is invalid.
func (s *ConfigurationService) BulkUpdate(ctx context.Context, req dto.BulkUpdateConfigurationRequest, actor *models.JWTClaims) ([]dto.ConfigurationItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	keys := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		keys = append(keys, item.Key)
	}
	existing, err := s.repo.ListByKeys(ctx, keys)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing configurations")
	}
	existingMap := make(map[string]models.Configuration, len(existing))
	for _, cfg := range existing {
		existingMap[cfg.Key] = cfg
	}

	toUpsert := make([]models.Configuration, 0, len(req.Items))
	for _, item := range req.Items {
		meta, err := s.requireAllowedKey(item.Key)
		if err != nil {
			return nil, err
		}
		normalizedValue, err := s.validateValue(meta, item.Value)
		if err != nil {
			return nil, err
		}
		toUpsert = append(toUpsert, models.Configuration{
			Key:         item.Key,
			Value:       normalizedValue,
			Type:        meta.Type,
			Description: strPtr(meta.Description),
			UpdatedBy:   userIDPtr(actor),
		})
	}

	if err := s.repo.BulkUpsert(ctx, toUpsert); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bulk update configurations")
	}

	result := make([]dto.ConfigurationItem, 0, len(toUpsert))
	for _, cfg := range toUpsert {
		result = append(result, dto.ConfigurationItem{
			Key:         cfg.Key,
			Value:       cfg.Value,
			Type:        string(cfg.Type),
			Description: allowedConfigurations[cfg.Key].Description,
			Source:      dto.ConfigSourceStored,
		})
		var prev *models.Configuration
		if row, ok := existingMap[cfg.Key]; ok {
			prev = &row
		}
		s.emitAudit(ctx, actor, cfg.Key, prevValue(prev), cfg.Value)
	}
	return result, nil
}

// Reset drops a stored setting so the default applies again.
func (s *ConfigurationService) Reset(ctx context.Context, key string, actor *models.JWTClaims) (*dto.ConfigurationItem, error) {
	meta, err := s.requireAllowedKey(key)
	if err != nil {
		return nil, err
	}
	prev, err := s.repo.Get(ctx, key)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch configuration")
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset configuration")
	}
	def := s.defaults[key]
	s.emitAudit(ctx, actor, key, prevValue(prev), def)
	return &dto.ConfigurationItem{
		Key:         key,
		Value:       def,
		Type:        string(meta.Type),
		Description: meta.Description,
		Source:      dto.ConfigSourceDefault,
	}, nil
}

// TaskConfig resolves the schedule of a housekeeping task. A malformed time is passed
// through untouched so the scheduler can report it.
func (s *ConfigurationService) TaskConfig(ctx context.Context, taskKey string) (scheduler.TaskConfig, error) {
	keys, ok := taskConfigKeys[taskKey]
	if !ok {
		return scheduler.TaskConfig{}, fmt.Errorf("no schedule configured for task %q", taskKey)
	}
	values, err := s.load(ctx, keys[:])
	if err != nil {
		return scheduler.TaskConfig{}, err
	}
	return scheduler.TaskConfig{
		TimeOfDay: values[keys[0]].Value,
		Enabled:   s.boolValue(values[keys[1]]),
	}, nil
}

// TherapyPolicy resolves the rollover times and the day lock toggle.
func (s *ConfigurationService) TherapyPolicy(ctx context.Context) (TherapyPolicy, error) {
	keys := []string{models.ConfigRolloverStandard, models.ConfigRolloverCritical, models.ConfigDayLockEnabled}
	values, err := s.load(ctx, keys)
	if err != nil {
		return TherapyPolicy{}, err
	}
	return TherapyPolicy{
		RolloverStandard: s.timeValue(values[models.ConfigRolloverStandard]),
		RolloverCritical: s.timeValue(values[models.ConfigRolloverCritical]),
		DayLock:          s.boolValue(values[models.ConfigDayLockEnabled]),
	}, nil
}

// ReportSettings returns the monthly report recipient and hospital name.
func (s *ConfigurationService) ReportSettings(ctx context.Context) (recipient, hospital string, err error) {
	values, err := s.load(ctx, []string{models.ConfigReportEmail, models.ConfigHospitalName})
	if err != nil {
		return "", "", err
	}
	return values[models.ConfigReportEmail].Value, values[models.ConfigHospitalName].Value, nil
}

// load merges stored rows over defaults. Keys without either come back with an empty Source.
func (s *ConfigurationService) load(ctx context.Context, keys []string) (map[string]dto.ConfigurationItem, error) {
	rows, err := s.repo.ListByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]models.Configuration, len(rows))
	for _, row := range rows {
		stored[row.Key] = row
	}
	items := make(map[string]dto.ConfigurationItem, len(keys))
	for _, key := range keys {
		meta := allowedConfigurations[key]
		item := dto.ConfigurationItem{Key: key, Type: string(meta.Type), Description: meta.Description}
		if row, ok := stored[key]; ok {
			item.Value = row.Value
			item.Source = dto.ConfigSourceStored
			if row.Description != nil && *row.Description != "" {
				item.Description = *row.Description
			}
		} else if def, ok := s.defaults[key]; ok {
			item.Value = def
			item.Source = dto.ConfigSourceDefault
		}
		items[key] = item
	}
	return items, nil
}

func (s *ConfigurationService) boolValue(item dto.ConfigurationItem) bool {
	enabled, err := strconv.ParseBool(item.Value)
	if err != nil {
		s.logger.Warn("configuration is not a boolean, treating as false", zap.String("key", item.Key), zap.String("value", item.Value))
		return false
	}
	return enabled
}

func (s *ConfigurationService) timeValue(item dto.ConfigurationItem) clock.TimeOfDay {
	tod, err := clock.ParseTimeOfDay(item.Value)
	if err == nil {
		return tod
	}
	s.logger.Warn("configuration is not a time of day, using default", zap.String("key", item.Key), zap.String("value", item.Value))
	if tod, err := clock.ParseTimeOfDay(s.defaults[item.Key]); err == nil {
		return tod
	}
	return clock.Midnight
}

func (s *ConfigurationService) requireAllowedKey(key string) (allowedConfiguration, error) {
	meta, ok := allowedConfigurations[key]
	if !ok {
		return allowedConfiguration{}, appErrors.Clone(appErrors.ErrValidation, "unsupported configuration key")
	}
	meta.Key = key
	return meta, nil
}

func (s *ConfigurationService) validateValue(meta allowedConfiguration, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch meta.Type {
	case models.ConfigurationTypeBoolean:
		switch strings.ToLower(value) {
		case "true":
			return "true", nil
		case "false":
			return "false", nil
		default:
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s expects boolean value", meta.Key))
		}
	case models.ConfigurationTypeTime:
		tod, err := clock.ParseTimeOfDay(value)
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInvalidSchedule.Code, appErrors.ErrInvalidSchedule.Status, fmt.Sprintf("%s expects HH:MM", meta.Key))
		}
		return tod.String(), nil
	case models.ConfigurationTypeEmail:
		if value == "" {
			return "", nil
		}
		if err := s.validator.Var(value, "email"); err != nil {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s expects an email address", meta.Key))
		}
		return value, nil
	case models.ConfigurationTypeString:
		return value, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "unsupported configuration type")
	}
}

func (s *ConfigurationService) emitAudit(ctx context.Context, actor *models.JWTClaims, key, oldValue, newValue string) {
	if s.audit == nil {
		return
	}
	oldBytes, _ := json.Marshal(map[string]string{"key": key, "value": oldValue})
	newBytes, _ := json.Marshal(map[string]string{"key": key, "value": newValue})
	log := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     models.AuditActionConfigUpdate,
		Resource:   "configuration",
		ResourceID: &key,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		Details:    fmt.Sprintf("%s: %q -> %q", key, oldValue, newValue),
		IPAddress:  "system",
		UserAgent:  "configuration-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record configuration audit", zap.Error(err))
	}
}

func prevValue(cfg *models.Configuration) string {
	if cfg == nil {
		return ""
	}
	return cfg.Value
}

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	return &actor.UserID
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	result := value
	return &result
}
