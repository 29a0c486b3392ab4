package dto

import "time"

// SchedulerTaskStatus describes one scheduled task for operators.
type SchedulerTaskStatus struct {
	TaskKey      string     `json:"taskKey"`
	Period       string     `json:"period"`
	TimeOfDay    string     `json:"timeOfDay"`
	Enabled      bool       `json:"enabled"`
	ConfigError  string     `json:"configError,omitempty"`
	LastPeriod   string     `json:"lastPeriod,omitempty"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty"`
	PendingRetry bool       `json:"pendingRetry"`
	LastError    string     `json:"lastError,omitempty"`
}

// SchedulerStatusResponse is returned by GET /scheduler/status.
type SchedulerStatusResponse struct {
	Now      time.Time             `json:"now"`
	Timezone string                `json:"timezone"`
	Interval string                `json:"interval"`
	Tasks    []SchedulerTaskStatus `json:"tasks"`
}

// SchedulerPollOutcome is one task result of a manual tick.
type SchedulerPollOutcome struct {
	TaskKey string `json:"taskKey"`
	Period  string `json:"period"`
	Result  string `json:"result"`
	Error   string `json:"error,omitempty"`
}
