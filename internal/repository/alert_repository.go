package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

const alertColumns = `id, kind, task_key, period, care_unit_class, message, preview, overflow, total, acknowledged_by, acknowledged_at, created_at`

// AlertRepository persists raised notices.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository constructs the repository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an alert and reports whether a row was written.
// A second alert for the same task and period is ignored.
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO alerts (id, kind, task_key, period, care_unit_class, message, preview, overflow, total, created_at)
VALUES (:id, :kind, :task_key, :period, :care_unit_class, :message, :preview, :overflow, :total, :created_at)
ON CONFLICT (task_key, period) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, alert)
	if err != nil {
		return false, fmt.Errorf("create alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create alert: %w", err)
	}
	return affected > 0, nil
}

// List returns alerts newest first.
func (r *AlertRepository) List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	var conditions []string
	var args []interface{}
	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if !filter.IncludeAcked {
		conditions = append(conditions, "acknowledged_at IS NULL")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM alerts", alertColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	var alerts []models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge marks an alert as dismissed by a user.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, userID string, at time.Time) error {
	const query = `UPDATE alerts SET acknowledged_by = $2, acknowledged_at = $3 WHERE id = $1 AND acknowledged_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, userID, at)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
