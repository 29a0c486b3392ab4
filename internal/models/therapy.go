package models

import (
	"errors"
	"time"
)

// ErrInvalidStartDate marks a course whose day of therapy cannot be computed.
var ErrInvalidStartDate = errors.New("course start date missing or invalid")

// ErrRemainingNotApplicable marks a regimen exempt from day tracking, such as a single dose.
var ErrRemainingNotApplicable = errors.New("remaining days not applicable to this regimen")

// Urgency buckets the remaining days of a course for display.
type Urgency string

const (
	UrgencyNormal        Urgency = "normal"
	UrgencyWarning       Urgency = "warning"
	UrgencyDue           Urgency = "due"
	UrgencyOverdue       Urgency = "overdue"
	UrgencyNotApplicable Urgency = "not_applicable"
	UrgencyUnknown       Urgency = "unknown"
)

// DayResult is the computed day-of-therapy view of a course at an instant.
type DayResult struct {
	Known         bool       `json:"known"`
	Day           int        `json:"day,omitempty"`
	CalculatedDay int        `json:"calculated_day,omitempty"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
	PlannedEnd    *time.Time `json:"planned_end,omitempty"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	Frozen        bool       `json:"frozen"`
	SingleDose    bool       `json:"single_dose"`
	Urgency       Urgency    `json:"urgency"`
}

// Overdue reports whether the course has reached or passed its planned duration.
func (r DayResult) Overdue() bool {
	return r.Known && r.DaysRemaining != nil && *r.DaysRemaining <= 0
}
