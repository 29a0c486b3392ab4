package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

const monthlyReportColumns = `id, period, status, pdf_path, csv_path, summary, recipient, attempts, delivered_at, error_message, created_at`

// MonthlyReportRepository persists generated monthly reports.
type MonthlyReportRepository struct {
	db *sqlx.DB
}

// NewMonthlyReportRepository constructs the repository.
func NewMonthlyReportRepository(db *sqlx.DB) *MonthlyReportRepository {
	return &MonthlyReportRepository{db: db}
}

// Save inserts the report of a period, replacing an earlier attempt for the same period.
func (r *MonthlyReportRepository) Save(ctx context.Context, report *models.MonthlyReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Status == "" {
		report.Status = models.ReportStatusGenerated
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO monthly_reports (id, period, status, pdf_path, csv_path, summary, recipient, attempts, delivered_at, error_message, created_at)
VALUES (:id, :period, :status, :pdf_path, :csv_path, :summary, :recipient, :attempts, :delivered_at, :error_message, :created_at)
ON CONFLICT (period)
DO UPDATE SET id = EXCLUDED.id, status = EXCLUDED.status, pdf_path = EXCLUDED.pdf_path, csv_path = EXCLUDED.csv_path,
              summary = EXCLUDED.summary, recipient = EXCLUDED.recipient, attempts = 0, delivered_at = NULL,
              error_message = NULL, created_at = EXCLUDED.created_at`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("save monthly report: %w", err)
	}
	return nil
}

// GetByID returns a report row by its identifier.
func (r *MonthlyReportRepository) GetByID(ctx context.Context, id string) (*models.MonthlyReport, error) {
	query := fmt.Sprintf(`SELECT %s FROM monthly_reports WHERE id = $1`, monthlyReportColumns)
	var report models.MonthlyReport
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		return nil, fmt.Errorf("get monthly report: %w", err)
	}
	return &report, nil
}

// List returns the most recent reports first.
func (r *MonthlyReportRepository) List(ctx context.Context, limit int) ([]models.MonthlyReport, error) {
	if limit <= 0 {
		limit = 24
	}
	query := fmt.Sprintf(`SELECT %s FROM monthly_reports ORDER BY period DESC LIMIT $1`, monthlyReportColumns)
	var reports []models.MonthlyReport
	if err := r.db.SelectContext(ctx, &reports, query, limit); err != nil {
		return nil, fmt.Errorf("list monthly reports: %w", err)
	}
	return reports, nil
}

// UpdateMonthlyReportParams defines the mutable fields.
type UpdateMonthlyReportParams struct {
	Status       *models.ReportStatus
	Attempts     *int
	DeliveredAt  *time.Time
	ErrorMessage *string
}

// Update persists the provided changes for a report row.
func (r *MonthlyReportRepository) Update(ctx context.Context, id string, params UpdateMonthlyReportParams) error {
	set := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Attempts != nil {
		set = append(set, fmt.Sprintf("attempts = $%d", argPos))
		args = append(args, *params.Attempts)
		argPos++
	}
	if params.DeliveredAt != nil {
		set = append(set, fmt.Sprintf("delivered_at = $%d", argPos))
		args = append(args, *params.DeliveredAt)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE monthly_reports SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update monthly report: %w", err)
	}
	return nil
}

// ListUndelivered fetches generated reports still awaiting mail delivery (used for cold start recovery).
func (r *MonthlyReportRepository) ListUndelivered(ctx context.Context, limit int) ([]models.MonthlyReport, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM monthly_reports WHERE status = 'GENERATED' ORDER BY created_at ASC LIMIT $1`, monthlyReportColumns)
	var reports []models.MonthlyReport
	if err := r.db.SelectContext(ctx, &reports, query, limit); err != nil {
		return nil, fmt.Errorf("list undelivered monthly reports: %w", err)
	}
	return reports, nil
}
