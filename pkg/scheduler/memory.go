package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// MemoryMarkers is a process-local MarkerStore and FailureStore.
type MemoryMarkers struct {
	mu       sync.Mutex
	markers  map[string]string
	failures map[string]Failure
}

// NewMemoryMarkers builds an empty in-memory store.
func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{markers: make(map[string]string), failures: make(map[string]Failure)}
}

// Get implements MarkerStore.
func (m *MemoryMarkers) Get(_ context.Context, taskKey string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	period, ok := m.markers[taskKey]
	return period, ok, nil
}

// Set implements MarkerStore.
func (m *MemoryMarkers) Set(_ context.Context, taskKey, period string) error {
	m.mu.Lock()
	m.markers[taskKey] = period
	m.mu.Unlock()
	return nil
}

// GetFailure implements FailureStore.
func (m *MemoryMarkers) GetFailure(_ context.Context, taskKey string) (Failure, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	failure, ok := m.failures[taskKey]
	return failure, ok, nil
}

// SetFailure implements FailureStore.
func (m *MemoryMarkers) SetFailure(_ context.Context, taskKey string, failure Failure) error {
	m.mu.Lock()
	m.failures[taskKey] = failure
	m.mu.Unlock()
	return nil
}

// ClearFailure implements FailureStore.
func (m *MemoryMarkers) ClearFailure(_ context.Context, taskKey string) error {
	m.mu.Lock()
	delete(m.failures, taskKey)
	m.mu.Unlock()
	return nil
}

// StaticConfig serves fixed task schedules.
type StaticConfig map[string]TaskConfig

// TaskConfig implements ConfigSource.
func (s StaticConfig) TaskConfig(_ context.Context, taskKey string) (TaskConfig, error) {
	cfg, ok := s[taskKey]
	if !ok {
		return TaskConfig{}, fmt.Errorf("no schedule for task %s", taskKey)
	}
	return cfg, nil
}
