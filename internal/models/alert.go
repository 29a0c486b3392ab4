package models

import (
	"time"

	"github.com/lib/pq"
)

// AlertKind identifies what a raised notice is about.
type AlertKind string

const (
	AlertKindPendingReview AlertKind = "pending_review"
	AlertKindOverdueCourse AlertKind = "overdue_course"
)

// AlertPreviewLimit caps how many names an alert lists before summarising the rest.
const AlertPreviewLimit = 3

// Alert is a user-facing notice raised by a scheduled task.
type Alert struct {
	ID             string         `db:"id" json:"id"`
	Kind           AlertKind      `db:"kind" json:"kind"`
	TaskKey        string         `db:"task_key" json:"task_key"`
	Period         string         `db:"period" json:"period"`
	CareUnitClass  *CareUnitClass `db:"care_unit_class" json:"care_unit_class,omitempty"`
	Message        string         `db:"message" json:"message"`
	Preview        pq.StringArray `db:"preview" json:"preview"`
	Overflow       int            `db:"overflow" json:"overflow"`
	Total          int            `db:"total" json:"total"`
	AcknowledgedBy *string        `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Kind         *AlertKind
	IncludeAcked bool
	Limit        int
}
