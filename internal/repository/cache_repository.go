package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

// CacheRepository stores JSON snapshots of the patient board in Redis.
// A nil client turns every call into a miss or a no-op.
type CacheRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository. Keys are namespaced under prefix.
func NewCacheRepository(client *redis.Client, prefix string, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, prefix: prefix, logger: logger}
}

func (r *CacheRepository) key(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + ":" + name
}

// Get loads a cached value into dest. appErrors.ErrCacheMiss reports an absent entry.
func (r *CacheRepository) Get(ctx context.Context, name string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	key := r.key(name)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set stores value with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, name string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	key := r.key(name)
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every entry of the namespace.
func (r *CacheRepository) Invalidate(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	pattern := r.key("*")
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var removed int
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}
	r.logger.Debug("board cache invalidated", zap.Int("keys", removed))
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
