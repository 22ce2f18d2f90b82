// Package metrics holds the Prometheus collectors for the cache, the sync
// engine, optimistic writes, remote clients and the worker pool.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmcdole/kinosync/internal/domain"
)

var (
	// Resource Cache
	CacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kinosync_cache_events_total",
			Help: "Resource cache tier transitions by resource type and event",
		},
		[]string{"resource", "event"}, // event: hit_memory, hit_disk, miss, promote, evict, expire, corrupt, revalidate
	)

	CacheMemoryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kinosync_cache_memory_entries",
			Help: "Entries currently held in the memory tier",
		},
	)

	CacheDroppedEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kinosync_cache_dropped_events",
			Help: "Cache events dropped because the observer buffer was full",
		},
	)

	// Delta sync
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kinosync_sync_cycles_total",
			Help: "Sync cycles by outcome",
		},
		[]string{"outcome"}, // "skipped", "unchanged", "completed", "interrupted", "failed"
	)

	SyncTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kinosync_sync_tasks_total",
			Help: "Category pulls by category and result",
		},
		[]string{"category", "result"},
	)

	SyncTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kinosync_sync_task_duration_seconds",
			Help:    "Duration of one category pull",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kinosync_sync_last_success_timestamp",
			Help: "Unix time of the last successful pull per category",
		},
		[]string{"category"},
	)

	// Optimistic writes
	WriteOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kinosync_write_outcomes_total",
			Help: "Optimistic writes by operation and final state",
		},
		[]string{"op", "state"},
	)

	WritesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kinosync_writes_pending",
			Help: "Optimistic writes awaiting remote confirmation",
		},
	)

	// Remote clients
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kinosync_remote_requests_total",
			Help: "Remote API requests by client and status code",
		},
		[]string{"client", "status"},
	)

	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kinosync_remote_request_duration_seconds",
			Help:    "Remote API request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"client"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kinosync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kinosync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Worker pool
	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kinosync_worker_queue_depth",
			Help: "Tasks waiting in the worker queue",
		},
	)

	WorkerTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kinosync_worker_tasks_total",
			Help: "Worker tasks by name and result",
		},
		[]string{"task", "result"}, // result: "ok", "error", "rejected", "suppressed"
	)

	// Prefetch
	PrefetchJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kinosync_prefetch_jobs_total",
			Help: "Warm jobs by kind and result",
		},
		[]string{"kind", "result"},
	)
)

// RecordRemoteRequest records one remote call.
func RecordRemoteRequest(client string, status int, took time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	RemoteRequests.WithLabelValues(client, code).Inc()
	RemoteLatency.WithLabelValues(client).Observe(took.Seconds())
}

// RecordSyncTask records the outcome of one category pull.
func RecordSyncTask(r domain.TaskResult, at time.Time) {
	category := string(r.Category)
	SyncTaskDuration.WithLabelValues(category).Observe(r.Duration.Seconds())
	if r.Err != nil {
		SyncTasks.WithLabelValues(category, "error").Inc()
		return
	}
	SyncTasks.WithLabelValues(category, "ok").Inc()
	SyncLastSuccess.WithLabelValues(category).Set(float64(at.Unix()))
}

// CacheObserver forwards cache events to CacheEvents.
type CacheObserver struct{}

func (CacheObserver) OnCacheEvent(e domain.CacheEvent) {
	CacheEvents.WithLabelValues(string(e.Resource), string(e.Type)).Inc()
}

// StateListener counts the final state of optimistic writes.
type StateListener struct{}

func (StateListener) OnStateChanged(c domain.StateChange) {
	WriteOutcomes.WithLabelValues(c.Outcome.Op, string(c.Outcome.State)).Inc()
}
