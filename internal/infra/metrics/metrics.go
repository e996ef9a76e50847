// Package metrics provides Prometheus metrics for Sentinel — counters,
// gauges, and histograms for event ingestion, the observer pipeline,
// drift detection, and the resilience layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ingestion ──────────────────────────────────────────────────────────────

// EventsReceived counts events accepted onto the queue, by event type.
var EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "events_received_total",
	Help:      "Total events accepted onto the ingestion queue.",
}, []string{"type"})

// EventsDropped counts events dropped by the backpressure policy.
var EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "events_dropped_total",
	Help:      "Total events dropped because the queue was full.",
})

// SchemaMismatches counts events dropped for failing contract validation.
var SchemaMismatches = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "schema_mismatch_total",
	Help:      "Total events dropped for missing required fields.",
})

// QueueDepth tracks the current ingestion queue length.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "sentinel",
	Name:      "queue_depth",
	Help:      "Current number of queued events awaiting the worker.",
})

// ─── Pipeline ───────────────────────────────────────────────────────────────

// EventsProcessed counts events fully run through the pipeline.
var EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "events_processed_total",
	Help:      "Total events consumed by the observer worker.",
})

// StageErrors counts isolated pipeline stage failures.
var StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "pipeline_stage_errors_total",
	Help:      "Total isolated stage failures, by pipeline stage.",
}, []string{"stage"})

// StageLatency tracks per-stage processing time.
var StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "sentinel",
	Name:      "pipeline_stage_seconds",
	Help:      "Pipeline stage duration in seconds.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
}, []string{"stage"})

// ─── Drift ──────────────────────────────────────────────────────────────────

// DriftSignals counts emitted drift signals by type.
var DriftSignals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "drift_signals_total",
	Help:      "Total drift signals emitted, by signal type.",
}, []string{"type"})

// ─── Resilience ─────────────────────────────────────────────────────────────

// BreakerState tracks circuit breaker state per dependency
// (0=CLOSED, 1=OPEN, 2=HALF_OPEN).
var BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "sentinel",
	Name:      "breaker_state",
	Help:      "Circuit breaker state per dependency (0=CLOSED, 1=OPEN, 2=HALF_OPEN).",
}, []string{"dependency"})

// EmitterOverhead tracks sampled hook emitter wall-clock overhead.
var EmitterOverhead = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "sentinel",
	Name:      "emitter_overhead_seconds",
	Help:      "Sampled wall-clock overhead of a single hook emitter call.",
	Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "sentinel",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
