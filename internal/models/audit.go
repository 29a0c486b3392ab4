package models

import "time"

// AuditAction constants represent actions recorded in a patient's history.
const (
	AuditActionAdmit           = "PATIENT_ADMIT"
	AuditActionEvaluate        = "PATIENT_EVALUATE"
	AuditActionEvaluationReset = "EVALUATION_RESET"
	AuditActionPrescribe       = "COURSE_PRESCRIBE"
	AuditActionStatusChange    = "COURSE_STATUS"
	AuditActionAuthorize       = "COURSE_AUTHORIZATION"
	AuditActionSwitch          = "COURSE_SWITCH"
	AuditActionDayAdjust       = "COURSE_DAY_ADJUST"
	AuditActionConfigUpdate    = "CONFIG_UPDATE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	PatientID  *string   `db:"patient_id" json:"patient_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	Details    string    `db:"details" json:"details"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
