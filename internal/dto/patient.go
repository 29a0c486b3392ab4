package dto

import (
	"time"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

// AdmitPatientRequest captures POST /patients payload.
type AdmitPatientRequest struct {
	Name          string               `json:"name" validate:"required,max=200"`
	BirthDate     string               `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
	Bed           string               `json:"bed" validate:"required,max=20"`
	Sector        string               `json:"sector" validate:"required,max=100"`
	CareUnitClass models.CareUnitClass `json:"careUnitClass" validate:"omitempty,oneof=standard critical"`
	Diagnosis     string               `json:"diagnosis" validate:"max=500"`
	TreatmentType models.TreatmentType `json:"treatmentType" validate:"omitempty,oneof=therapeutic prophylactic"`
	Observation   *string              `json:"observation,omitempty"`
}

// PatientListQuery binds board filters from the query string.
type PatientListQuery struct {
	CareUnitClass string `form:"unitClass" validate:"omitempty,oneof=standard critical"`
	Sector        string `form:"sector"`
	Search        string `form:"search"`
	Evaluated     *bool  `form:"evaluated"`
	Page          int    `form:"page" validate:"omitempty,min=1"`
	PageSize      int    `form:"pageSize" validate:"omitempty,min=1,max=200"`
}

// CourseView is a course with its day-of-therapy computed at read time.
type CourseView struct {
	models.Course
	DayInfo models.DayResult `json:"day_info"`
}

// PatientView is a patient row on the board.
type PatientView struct {
	models.Patient
	Courses []CourseView `json:"courses"`
}

// BoardResponse is the cached board payload.
type BoardResponse struct {
	GeneratedAt time.Time          `json:"generatedAt"`
	Patients    []PatientView      `json:"patients"`
	Pagination  *models.Pagination `json:"pagination,omitempty"`
}

// HistoryEntry is one line of a patient's audit trail.
type HistoryEntry struct {
	At       time.Time `json:"at"`
	Action   string    `json:"action"`
	Actor    string    `json:"actor"`
	Resource string    `json:"resource"`
	Details  string    `json:"details"`
}
