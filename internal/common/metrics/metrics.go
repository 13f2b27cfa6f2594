package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Applier metrics

	// ApplierEventsApplied tracks change-stream events applied to the target.
	ApplierEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mongosyncdb",
			Subsystem: "applier",
			Name:      "events_applied_total",
			Help:      "Total change-stream events applied to the target",
		},
		[]string{"operation_type", "result"}, // operation_type: insert, update, replace, delete, rename; result: success, failed
	)

	// ApplierCheckpointLagSeconds tracks how far behind the last persisted
	// checkpoint is from the last-applied event's cluster time.
	ApplierCheckpointLagSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mongosyncdb",
			Subsystem: "applier",
			Name:      "checkpoint_lag_seconds",
			Help:      "Seconds between the last-applied event and the last persisted checkpoint",
		},
	)

	// ApplierCheckpointsSaved tracks checkpoint persists, split by trigger.
	ApplierCheckpointsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mongosyncdb",
			Subsystem: "applier",
			Name:      "checkpoints_saved_total",
			Help:      "Total checkpoints persisted, by trigger",
		},
		[]string{"trigger"}, // trigger: batch_size, time_interval
	)

	// ApplierRunning reports whether the change-stream event loop is active.
	ApplierRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mongosyncdb",
			Subsystem: "applier",
			Name:      "running",
			Help:      "Whether the change-stream applier event loop is currently running (1) or stopped (0)",
		},
	)

	// ApplierCircuitBreakerState tracks the target-write circuit breaker
	// state. 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	ApplierCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mongosyncdb",
			Subsystem: "applier",
			Name:      "circuit_breaker_state",
			Help:      "Target write circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// Snapshot (initial-load) metrics

	// SnapshotCollectionProgressPercent tracks per-collection copy progress.
	SnapshotCollectionProgressPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mongosyncdb",
			Subsystem: "snapshot",
			Name:      "collection_progress_percent",
			Help:      "Percentage of a collection's documents copied to the target so far",
		},
		[]string{"collection"},
	)

	// SnapshotWorkerFailures tracks per-collection copy failures.
	SnapshotWorkerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mongosyncdb",
			Subsystem: "snapshot",
			Name:      "worker_failures_total",
			Help:      "Total collection copy failures during the initial load",
		},
		[]string{"collection"},
	)

	// SnapshotCollectionsCopied tracks completed collection copies.
	SnapshotCollectionsCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mongosyncdb",
			Subsystem: "snapshot",
			Name:      "collections_copied_total",
			Help:      "Total collections successfully copied during the initial load",
		},
	)

	// HTTP API metrics

	// HTTPRequestsTotal tracks HTTP API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mongosyncdb",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mongosyncdb",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPActiveConnections tracks active HTTP connections
	HTTPActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mongosyncdb",
			Subsystem: "http",
			Name:      "active_connections",
			Help:      "Number of active HTTP connections",
		},
	)
)

// CircuitBreakerState constants
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
