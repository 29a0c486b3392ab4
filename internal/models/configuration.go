package models

import "time"

// ConfigurationType defines supported types for configuration values.
type ConfigurationType string

const (
	ConfigurationTypeString  ConfigurationType = "STRING"
	ConfigurationTypeBoolean ConfigurationType = "BOOLEAN"
	ConfigurationTypeTime    ConfigurationType = "TIME"
	ConfigurationTypeEmail   ConfigurationType = "EMAIL"
)

// Configuration keys editable at runtime.
const (
	ConfigResetStandardTime          = "reset_standard_time"
	ConfigResetStandardEnabled       = "reset_standard_enabled"
	ConfigResetCriticalTime          = "reset_critical_time"
	ConfigResetCriticalEnabled       = "reset_critical_enabled"
	ConfigPendingAlertStandardTime   = "pending_alert_standard_time"
	ConfigPendingAlertStandardEnable = "pending_alert_standard_enabled"
	ConfigPendingAlertCriticalTime   = "pending_alert_critical_time"
	ConfigPendingAlertCriticalEnable = "pending_alert_critical_enabled"
	ConfigOverdueAlertTime           = "overdue_alert_time"
	ConfigOverdueAlertEnabled        = "overdue_alert_enabled"
	ConfigMonthlyReportTime          = "monthly_report_time"
	ConfigMonthlyReportEnabled       = "monthly_report_enabled"
	ConfigRolloverStandard           = "rollover_time_standard"
	ConfigRolloverCritical           = "rollover_time_critical"
	ConfigDayLockEnabled             = "day_lock_enabled"
	ConfigReportEmail                = "report_email"
	ConfigHospitalName               = "hospital_name"
)

// Configuration represents a persisted configuration entry.
type Configuration struct {
	Key         string            `db:"key" json:"key"`
	Value       string            `db:"value" json:"value"`
	Type        ConfigurationType `db:"type" json:"type"`
	Description *string           `db:"description" json:"description,omitempty"`
	UpdatedBy   *string           `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}
