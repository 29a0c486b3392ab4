package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

// AuditRepository stores the action trail of patients and configuration.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAuditLog stores an audit log entry.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, patient_id, old_values, new_values, details, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :patient_id, :old_values, :new_values, :details, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListByPatient returns the newest entries of a patient's history first.
func (r *AuditRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `SELECT id, user_id, action, resource, resource_id, patient_id, old_values, new_values, details, ip_address, user_agent, created_at
FROM audit_logs WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2`
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, patientID, limit); err != nil {
		return nil, fmt.Errorf("list patient history: %w", err)
	}
	return logs, nil
}
