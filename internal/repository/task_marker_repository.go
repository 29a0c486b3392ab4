package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/atb-stewardship-api/pkg/scheduler"
)

// TaskMarkerRepository stores the last period each scheduled task completed, in Postgres.
type TaskMarkerRepository struct {
	db *sqlx.DB
}

// NewTaskMarkerRepository constructs the repository.
func NewTaskMarkerRepository(db *sqlx.DB) *TaskMarkerRepository {
	return &TaskMarkerRepository{db: db}
}

// Get returns the recorded period for a task.
func (r *TaskMarkerRepository) Get(ctx context.Context, taskKey string) (string, bool, error) {
	const query = `SELECT period FROM task_markers WHERE task_key = $1`
	var period string
	if err := r.db.GetContext(ctx, &period, query, taskKey); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get task marker: %w", err)
	}
	return period, true, nil
}

// Set records period as the last completed period of a task.
func (r *TaskMarkerRepository) Set(ctx context.Context, taskKey, period string) error {
	const query = `INSERT INTO task_markers (task_key, period, fired_at) VALUES ($1, $2, $3)
ON CONFLICT (task_key) DO UPDATE SET period = EXCLUDED.period, fired_at = EXCLUDED.fired_at`
	if _, err := r.db.ExecContext(ctx, query, taskKey, period, time.Now().UTC()); err != nil {
		return fmt.Errorf("set task marker: %w", err)
	}
	return nil
}

// GetFailure returns the pending failure of a task, if any.
func (r *TaskMarkerRepository) GetFailure(ctx context.Context, taskKey string) (scheduler.Failure, bool, error) {
	const query = `SELECT period, message FROM task_failures WHERE task_key = $1`
	var row struct {
		Period  string `db:"period"`
		Message string `db:"message"`
	}
	if err := r.db.GetContext(ctx, &row, query, taskKey); err != nil {
		if err == sql.ErrNoRows {
			return scheduler.Failure{}, false, nil
		}
		return scheduler.Failure{}, false, fmt.Errorf("get task failure: %w", err)
	}
	return scheduler.Failure{Period: row.Period, Message: row.Message}, true, nil
}

// SetFailure records a failed period until it succeeds or is reported missed.
func (r *TaskMarkerRepository) SetFailure(ctx context.Context, taskKey string, failure scheduler.Failure) error {
	const query = `INSERT INTO task_failures (task_key, period, message, failed_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (task_key) DO UPDATE SET period = EXCLUDED.period, message = EXCLUDED.message, failed_at = EXCLUDED.failed_at`
	if _, err := r.db.ExecContext(ctx, query, taskKey, failure.Period, failure.Message, time.Now().UTC()); err != nil {
		return fmt.Errorf("set task failure: %w", err)
	}
	return nil
}

// ClearFailure drops the pending failure of a task.
func (r *TaskMarkerRepository) ClearFailure(ctx context.Context, taskKey string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM task_failures WHERE task_key = $1`, taskKey); err != nil {
		return fmt.Errorf("clear task failure: %w", err)
	}
	return nil
}

const (
	redisMarkerHash  = "scheduler:markers"
	redisFailureHash = "scheduler:failures"
)

// redisHash is the part of the Redis client the marker store uses.
type redisHash interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}

// RedisTaskMarkerStore keeps task markers and pending failures in Redis hashes without expiry.
type RedisTaskMarkerStore struct {
	client   redisHash
	key      string
	failures string
}

// NewRedisTaskMarkerStore constructs the store.
func NewRedisTaskMarkerStore(client redisHash) *RedisTaskMarkerStore {
	return &RedisTaskMarkerStore{client: client, key: redisMarkerHash, failures: redisFailureHash}
}

// Get returns the recorded period for a task.
func (s *RedisTaskMarkerStore) Get(ctx context.Context, taskKey string) (string, bool, error) {
	period, err := s.client.HGet(ctx, s.key, taskKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis hget %s: %w", taskKey, err)
	}
	return period, true, nil
}

// Set records period as the last completed period of a task.
func (s *RedisTaskMarkerStore) Set(ctx context.Context, taskKey, period string) error {
	if err := s.client.HSet(ctx, s.key, taskKey, period).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", taskKey, err)
	}
	return nil
}

// GetFailure returns the pending failure of a task, if any.
func (s *RedisTaskMarkerStore) GetFailure(ctx context.Context, taskKey string) (scheduler.Failure, bool, error) {
	raw, err := s.client.HGet(ctx, s.failures, taskKey).Result()
	if err != nil {
		if err == redis.Nil {
			return scheduler.Failure{}, false, nil
		}
		return scheduler.Failure{}, false, fmt.Errorf("redis hget failure %s: %w", taskKey, err)
	}
	var failure scheduler.Failure
	if err := json.Unmarshal([]byte(raw), &failure); err != nil {
		return scheduler.Failure{}, false, fmt.Errorf("decode failure %s: %w", taskKey, err)
	}
	return failure, true, nil
}

// SetFailure records a failed period until it succeeds or is reported missed.
func (s *RedisTaskMarkerStore) SetFailure(ctx context.Context, taskKey string, failure scheduler.Failure) error {
	raw, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("encode failure %s: %w", taskKey, err)
	}
	if err := s.client.HSet(ctx, s.failures, taskKey, string(raw)).Err(); err != nil {
		return fmt.Errorf("redis hset failure %s: %w", taskKey, err)
	}
	return nil
}

// ClearFailure drops the pending failure of a task.
func (s *RedisTaskMarkerStore) ClearFailure(ctx context.Context, taskKey string) error {
	if err := s.client.HDel(ctx, s.failures, taskKey).Err(); err != nil {
		return fmt.Errorf("redis hdel failure %s: %w", taskKey, err)
	}
	return nil
}
