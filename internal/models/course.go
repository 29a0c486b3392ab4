package models

import (
	"fmt"
	"time"
)

// CourseStatus is the lifecycle state of an antimicrobial course.
type CourseStatus string

const (
	CourseStatusActive    CourseStatus = "active"
	CourseStatusSuspended CourseStatus = "suspended"
	CourseStatusCompleted CourseStatus = "completed"
	CourseStatusSwitched  CourseStatus = "switched"
	CourseStatusLeftCare  CourseStatus = "left_care"
	CourseStatusDeceased  CourseStatus = "deceased"
)

// CourseStatuses lists every status in display order.
var CourseStatuses = []CourseStatus{
	CourseStatusActive,
	CourseStatusSuspended,
	CourseStatusCompleted,
	CourseStatusSwitched,
	CourseStatusLeftCare,
	CourseStatusDeceased,
}

// Valid reports whether s is a known status.
func (s CourseStatus) Valid() bool {
	switch s {
	case CourseStatusActive, CourseStatusSuspended, CourseStatusCompleted,
		CourseStatusSwitched, CourseStatusLeftCare, CourseStatusDeceased:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition may leave s.
func (s CourseStatus) Terminal() bool {
	switch s {
	case CourseStatusActive:
		return false
	case CourseStatusSuspended, CourseStatusCompleted, CourseStatusSwitched,
		CourseStatusLeftCare, CourseStatusDeceased:
		return true
	default:
		// unknown values admit no transitions
		return true
	}
}

// Authorization is the infection-control verdict on a course or patient.
type Authorization string

const (
	AuthorizationPending  Authorization = "pending"
	AuthorizationApproved Authorization = "approved"
	AuthorizationRejected Authorization = "rejected"
)

// Valid reports whether a is a known verdict.
func (a Authorization) Valid() bool {
	switch a {
	case AuthorizationPending, AuthorizationApproved, AuthorizationRejected:
		return true
	default:
		return false
	}
}

// Regimen distinguishes tracked courses from single-dose prophylaxis.
type Regimen string

const (
	RegimenCourse     Regimen = "course"
	RegimenSingleDose Regimen = "single_dose"
)

// Valid reports whether r is a known regimen.
func (r Regimen) Valid() bool {
	return r == RegimenCourse || r == RegimenSingleDose
}

// MedicationCategory groups prescribed agents.
type MedicationCategory string

const (
	CategoryAntimicrobial MedicationCategory = "antimicrobial"
	CategoryAntifungal    MedicationCategory = "antifungal"
	CategoryAntiviral     MedicationCategory = "antiviral"
	CategoryBiologic      MedicationCategory = "biologic"
	CategoryPsychotropic  MedicationCategory = "psychotropic"
)

// Course is one prescribed antimicrobial order owned by a patient.
type Course struct {
	ID                   string             `db:"id" json:"id"`
	PatientID            string             `db:"patient_id" json:"patient_id"`
	Name                 string             `db:"name" json:"name"`
	Category             MedicationCategory `db:"category" json:"category"`
	Dose                 string             `db:"dose" json:"dose"`
	Frequency            string             `db:"frequency" json:"frequency"`
	Route                *string            `db:"route" json:"route,omitempty"`
	Justification        *string            `db:"justification" json:"justification,omitempty"`
	Regimen              Regimen            `db:"regimen" json:"regimen"`
	StartDate            *time.Time         `db:"start_date" json:"start_date,omitempty"`
	PlannedDurationDays  int                `db:"planned_duration_days" json:"planned_duration_days"`
	ManualOffset         int                `db:"manual_offset" json:"manual_offset"`
	AdjustedDay          *int               `db:"adjusted_day" json:"adjusted_day,omitempty"`
	LastAdjustmentDate   *time.Time         `db:"last_adjustment_date" json:"last_adjustment_date,omitempty"`
	FrozenUntil          *time.Time         `db:"frozen_until" json:"frozen_until,omitempty"`
	Status               CourseStatus       `db:"status" json:"status"`
	StatusChangedAt      *time.Time         `db:"status_changed_at" json:"status_changed_at,omitempty"`
	Authorization        Authorization      `db:"authorization_status" json:"authorization"`
	AuthorizationComment *string            `db:"authorization_comment" json:"authorization_comment,omitempty"`
	SwitchReason         *string            `db:"switch_reason" json:"switch_reason,omitempty"`
	ReplacesCourseID     *string            `db:"replaces_course_id" json:"replaces_course_id,omitempty"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
}

// DayAdjustment is the operator correction applied to a course's day count.
// The adjusted day holds verbatim while now is before FrozenUntil.
type DayAdjustment struct {
	Offset      int       `json:"offset"`
	Day         int       `json:"day"`
	AdjustedOn  time.Time `json:"adjusted_on"`
	FrozenUntil time.Time `json:"frozen_until"`
}

// Adjustment returns the stored correction, or nil when the course was never adjusted.
func (c *Course) Adjustment() *DayAdjustment {
	if c.AdjustedDay == nil || c.LastAdjustmentDate == nil || c.FrozenUntil == nil {
		if c.ManualOffset == 0 {
			return nil
		}
		return &DayAdjustment{Offset: c.ManualOffset}
	}
	return &DayAdjustment{
		Offset:      c.ManualOffset,
		Day:         *c.AdjustedDay,
		AdjustedOn:  *c.LastAdjustmentDate,
		FrozenUntil: *c.FrozenUntil,
	}
}

// Active reports whether the course is still in use.
func (c *Course) Active() bool {
	return c.Status == CourseStatusActive
}

// CourseUpdate carries a partial course mutation. Nil fields are left untouched.
type CourseUpdate struct {
	Status               *CourseStatus
	StatusChangedAt      *time.Time
	Authorization        *Authorization
	AuthorizationComment *string
	SwitchReason         *string
	Adjustment           *DayAdjustment
	PlannedDurationDays  *int
}

// TransitionAxis names which state machine rejected a change.
type TransitionAxis string

const (
	AxisStatus        TransitionAxis = "status"
	AxisAuthorization TransitionAxis = "authorization"
)

// TransitionError reports an illegal status or authorization change.
type TransitionError struct {
	Axis   TransitionAxis
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("illegal %s transition from %s to %s", e.Axis, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
