package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/atb-stewardship-api/pkg/scheduler"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache and scheduler activity.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	taskRuns        *prometheus.CounterVec
	taskMissed      *prometheus.CounterVec
	configErrors    *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	tickDuration    prometheus.Histogram

	cacheHitCount  uint64
	cacheMissCount uint64
}

var _ scheduler.Observer = (*MetricsService)(nil)

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	taskRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_runs_total",
		Help: "Scheduled task executions by outcome",
	}, []string{"task", "result"})

	taskMissed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_missed_total",
		Help: "Periods that closed without a successful task execution",
	}, []string{"task"})

	configErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_config_errors_total",
		Help: "Malformed task schedules detected",
	}, []string{"task"})

	taskDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_task_duration_seconds",
		Help:    "Duration of successful task executions",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Duration of scheduler poll ticks",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		taskRuns, taskMissed, configErrors, taskDuration, tickDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		taskRuns:        taskRuns,
		taskMissed:      taskMissed,
		configErrors:    configErrors,
		taskDuration:    taskDuration,
		tickDuration:    tickDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// TaskFired implements scheduler.Observer.
func (m *MetricsService) TaskFired(taskKey, _ string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(taskKey, string(scheduler.ResultFired)).Inc()
	m.taskDuration.WithLabelValues(taskKey).Observe(elapsed.Seconds())
}

// TaskFailed implements scheduler.Observer.
func (m *MetricsService) TaskFailed(taskKey, _ string, _ error) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(taskKey, string(scheduler.ResultFailed)).Inc()
}

// TaskMissed implements scheduler.Observer.
func (m *MetricsService) TaskMissed(taskKey, _ string, _ error) {
	if m == nil {
		return
	}
	m.taskMissed.WithLabelValues(taskKey).Inc()
}

// ConfigInvalid implements scheduler.Observer.
func (m *MetricsService) ConfigInvalid(taskKey, _ string, _ error) {
	if m == nil {
		return
	}
	m.configErrors.WithLabelValues(taskKey).Inc()
}

// TickCompleted implements scheduler.Observer.
func (m *MetricsService) TickCompleted(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(elapsed.Seconds())
}
