package models

import "time"

// CareUnitClass selects which rollover and alert schedule applies to a patient.
type CareUnitClass string

const (
	CareUnitStandard CareUnitClass = "standard"
	CareUnitCritical CareUnitClass = "critical"
)

// CareUnitClasses lists every class in evaluation order.
var CareUnitClasses = []CareUnitClass{CareUnitStandard, CareUnitCritical}

// Valid reports whether c is a known class.
func (c CareUnitClass) Valid() bool {
	return c == CareUnitStandard || c == CareUnitCritical
}

// TreatmentType records whether therapy is curative or prophylactic.
type TreatmentType string

const (
	TreatmentTherapeutic  TreatmentType = "therapeutic"
	TreatmentProphylactic TreatmentType = "prophylactic"
)

// Patient is an admitted patient tracked on the stewardship board.
type Patient struct {
	ID                   string        `db:"id" json:"id"`
	Name                 string        `db:"name" json:"name"`
	BirthDate            *time.Time    `db:"birth_date" json:"birth_date,omitempty"`
	Bed                  string        `db:"bed" json:"bed"`
	Sector               string        `db:"sector" json:"sector"`
	CareUnitClass        CareUnitClass `db:"care_unit_class" json:"care_unit_class"`
	Diagnosis            string        `db:"diagnosis" json:"diagnosis"`
	TreatmentType        TreatmentType `db:"treatment_type" json:"treatment_type"`
	Authorization        Authorization `db:"authorization_status" json:"authorization"`
	AuthorizationComment *string       `db:"authorization_comment" json:"authorization_comment,omitempty"`
	EvaluatedToday       bool          `db:"evaluated_today" json:"evaluated_today"`
	LastEvaluationDate   *time.Time    `db:"last_evaluation_date" json:"last_evaluation_date,omitempty"`
	Observation          *string       `db:"observation" json:"observation,omitempty"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`

	Courses []Course `db:"-" json:"courses,omitempty"`
}

// PatientFilter narrows patient listings.
type PatientFilter struct {
	CareUnitClass *CareUnitClass
	Sector        string
	Search        string
	Evaluated     *bool
	Page          int
	PageSize      int
}

// PatientUpdate carries a partial patient mutation. Nil fields are left untouched.
type PatientUpdate struct {
	Bed                *string
	Sector             *string
	CareUnitClass      *CareUnitClass
	Diagnosis          *string
	Observation        *string
	Authorization      *Authorization
	EvaluatedToday     *bool
	LastEvaluationDate *time.Time
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
