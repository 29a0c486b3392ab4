package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/atb-stewardship-api/pkg/errors"
)

type memoryCacheRepo struct {
	values map[string][]byte
	getErr error
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{values: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func (m *memoryCacheRepo) Invalidate(context.Context) error {
	m.values = map[string][]byte{}
	return nil
}

func TestCacheServiceHitAndMiss(t *testing.T) {
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 0, nil, true)
	ctx := context.Background()

	var out map[string]int
	hit, err := svc.Get(ctx, "board:x", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "board:x", map[string]int{"patients": 3}, 0))
	hit, err = svc.Get(ctx, "board:x", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 3, out["patients"])

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
}

func TestCacheServiceSurfacesBackendErrors(t *testing.T) {
	repo := newMemoryCacheRepo()
	repo.getErr = errors.New("connection refused")
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	var out map[string]int
	hit, err := svc.Get(context.Background(), "k", &out)
	assert.False(t, hit)
	assert.Error(t, err)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, false)
	assert.False(t, svc.Enabled())

	require.NoError(t, svc.Set(context.Background(), "k", 1, 0))
	assert.Empty(t, repo.values)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
	require.NoError(t, nilSvc.Invalidate(context.Background()))
}
