package dto

import "github.com/noah-isme/atb-stewardship-api/internal/models"

// PrescribeCourseRequest captures POST /patients/:id/courses payload.
type PrescribeCourseRequest struct {
	Name                string                    `json:"name" validate:"required,max=200"`
	Category            models.MedicationCategory `json:"category" validate:"omitempty,oneof=antimicrobial antifungal antiviral biologic psychotropic"`
	Dose                string                    `json:"dose" validate:"required,max=100"`
	Frequency           string                    `json:"frequency" validate:"required,max=100"`
	Route               *string                   `json:"route,omitempty"`
	Justification       *string                   `json:"justification,omitempty"`
	Regimen             models.Regimen            `json:"regimen" validate:"omitempty,oneof=course single_dose"`
	StartDate           string                    `json:"startDate" validate:"required,datetime=2006-01-02"`
	PlannedDurationDays int                       `json:"plannedDurationDays" validate:"required,min=1,max=365"`
}

// ChangeStatusRequest captures POST /courses/:id/status payload.
type ChangeStatusRequest struct {
	Status models.CourseStatus `json:"status" validate:"required"`
	Reason string              `json:"reason" validate:"max=500"`
}

// SwitchCourseRequest captures POST /courses/:id/switch payload.
type SwitchCourseRequest struct {
	Reason      string                 `json:"reason" validate:"required,max=500"`
	Replacement PrescribeCourseRequest `json:"replacement" validate:"required"`
}

// AuthorizeCourseRequest captures POST /courses/:id/authorization payload.
type AuthorizeCourseRequest struct {
	Decision models.Authorization `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string               `json:"comment" validate:"max=1000"`
}

// AdjustDayRequest captures PUT /courses/:id/day payload.
type AdjustDayRequest struct {
	Day int `json:"day" validate:"required,min=1,max=365"`
}

// CourseMutationResponse returns the mutated course with refreshed derived state.
type CourseMutationResponse struct {
	Course               CourseView           `json:"course"`
	Replacement          *CourseView          `json:"replacement,omitempty"`
	PatientAuthorization models.Authorization `json:"patientAuthorization"`
}
