package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReportStatus captures the delivery lifecycle of a generated report.
type ReportStatus string

const (
	ReportStatusGenerated ReportStatus = "GENERATED"
	ReportStatusDelivered ReportStatus = "DELIVERED"
	ReportStatusFailed    ReportStatus = "FAILED"
)

// ReportFormat enumerates stored artifact formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// MonthlyReport is the persisted record of one month's stewardship report.
type MonthlyReport struct {
	ID           string        `db:"id" json:"id"`
	Period       string        `db:"period" json:"period"`
	Status       ReportStatus  `db:"status" json:"status"`
	PDFPath      string        `db:"pdf_path" json:"-"`
	CSVPath      string        `db:"csv_path" json:"-"`
	Summary      ReportSummary `db:"summary" json:"summary"`
	Recipient    *string       `db:"recipient" json:"recipient,omitempty"`
	Attempts     int           `db:"attempts" json:"attempts"`
	DeliveredAt  *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// ReportSummary holds the headline figures of a monthly report, persisted as JSONB.
type ReportSummary struct {
	GeneratedAt       time.Time `json:"generatedAt"`
	Patients          int       `json:"patients"`
	PatientsOnTherapy int       `json:"patientsOnTherapy"`
	ActiveCourses     int       `json:"activeCourses"`
	OverdueCourses    int       `json:"overdueCourses"`
	PendingReview     int       `json:"pendingReview"`
	Rejected          int       `json:"rejected"`
	DaysOfTherapy     int       `json:"daysOfTherapy"`
}

// Value marshals the summary to JSON for persistence.
func (s ReportSummary) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal report summary: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the summary.
func (s *ReportSummary) Scan(value interface{}) error {
	if value == nil {
		*s = ReportSummary{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ReportSummary", value)
	}
	if len(data) == 0 {
		*s = ReportSummary{}
		return nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal report summary: %w", err)
	}
	return nil
}
