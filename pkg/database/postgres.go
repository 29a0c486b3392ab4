package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/atb-stewardship-api/pkg/config"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// DSN renders the lib/pq connection string of cfg.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

// NewPostgres opens the pool and waits for the server, retrying a few times so the
// API can start alongside the database container.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*sqlx.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if pingErr = Ping(ctx, db); pingErr == nil {
			return db, nil
		}
		logger.Warn("postgres not ready", zap.Int("attempt", attempt), zap.Error(pingErr))
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff * time.Duration(attempt)):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", connectAttempts, pingErr)
}

// Ping checks connectivity with a short deadline. Used by the readiness probe.
func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
