package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/atb-stewardship-api/internal/models"
)

const upsertConfigurationQuery = `INSERT INTO configurations (key, value, type, description, updated_by, updated_at)
VALUES (:key, :value, :type, :description, :updated_by, :updated_at)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, type = EXCLUDED.type, description = EXCLUDED.description,
              updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`

// ConfigurationRepository persists operator-editable settings such as task times and rollover hours.
type ConfigurationRepository struct {
	db *sqlx.DB
}

// NewConfigurationRepository constructs the repository.
func NewConfigurationRepository(db *sqlx.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// ListByKeys returns stored settings whose key is in keys.
func (r *ConfigurationRepository) ListByKeys(ctx context.Context, keys []string) ([]models.Configuration, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	const query = `SELECT key, value, type, description, updated_by, updated_at
FROM configurations WHERE key = ANY($1) ORDER BY key ASC`
	var configs []models.Configuration
	if err := r.db.SelectContext(ctx, &configs, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	return configs, nil
}

// Get fetches a single setting. sql.ErrNoRows means the default applies.
func (r *ConfigurationRepository) Get(ctx context.Context, key string) (*models.Configuration, error) {
	const query = `SELECT key, value, type, description, updated_by, updated_at FROM configurations WHERE key = $1`
	var cfg models.Configuration
	if err := r.db.GetContext(ctx, &cfg, query, key); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Upsert stores a single setting.
func (r *ConfigurationRepository) Upsert(ctx context.Context, cfg *models.Configuration) error {
	cfg.UpdatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, upsertConfigurationQuery, cfg); err != nil {
		return fmt.Errorf("upsert configuration: %w", err)
	}
	return nil
}

// BulkUpsert stores several settings atomically.
func (r *ConfigurationRepository) BulkUpsert(ctx context.Context, cfgs []models.Configuration) error {
	if len(cfgs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk configuration tx: %w", err)
	}
	now := time.Now().UTC()
	for i := range cfgs {
		cfgs[i].UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, upsertConfigurationQuery, cfgs[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bulk upsert configuration: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk configuration tx: %w", err)
	}
	return nil
}

// Delete removes a stored setting so the built-in default applies again.
func (r *ConfigurationRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM configurations WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete configuration: %w", err)
	}
	return nil
}
