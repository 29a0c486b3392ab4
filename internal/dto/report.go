package dto

import (
	"time"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

// MonthlyReportResponse exposes a generated monthly report.
type MonthlyReportResponse struct {
	ID             string               `json:"id"`
	Period         string               `json:"period"`
	Status         models.ReportStatus  `json:"status"`
	Summary        models.ReportSummary `json:"summary"`
	Attempts       int                  `json:"attempts"`
	DownloadURL    string               `json:"downloadUrl,omitempty"`
	CSVDownloadURL string               `json:"csvDownloadUrl,omitempty"`
	ExpiresAt      *time.Time           `json:"expiresAt,omitempty"`
	DeliveredAt    *time.Time           `json:"deliveredAt,omitempty"`
	Error          *string              `json:"error,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// AlertQuery binds alert list filters.
type AlertQuery struct {
	Kind         string `form:"kind" validate:"omitempty,oneof=pending_review overdue_course"`
	IncludeAcked bool   `form:"includeAcknowledged"`
	Limit        int    `form:"limit" validate:"omitempty,min=1,max=200"`
}
