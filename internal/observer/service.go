// Package observer implements the background consumer of the event queue.
// A single worker drains events and runs each through a fixed pipeline:
// persist → coverage merge → drift analysis → lifecycle heartbeat, every
// stage wrapped in failure isolation so nothing observer-side can leak back
// to the test run feeding the queue.
package observer

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinel-ci/sentinel/internal/coverage"
	"github.com/sentinel-ci/sentinel/internal/domain"
	"github.com/sentinel-ci/sentinel/internal/drift"
	"github.com/sentinel-ci/sentinel/internal/infra/metrics"
	"github.com/sentinel-ci/sentinel/internal/resilience"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────

// EventStore persists events and drift signals. Satisfied by *sqlite.DB.
type EventStore interface {
	InsertEvent(e domain.Event) error
	InsertSignal(s domain.DriftSignal) error
}

// Heartbeater receives the per-event lifecycle touch. Satisfied by
// *lifecycle.Manager.
type Heartbeater interface {
	Heartbeat(projectID string, at time.Time) error
}

// Notifier is the optional hand-off to downstream intelligence consumers.
// Implementations live outside this engine; the default is none.
type Notifier interface {
	Notify(e domain.Event, signals []domain.DriftSignal) error
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the observer service.
type Config struct {
	ProjectID     string
	QueueCapacity int
	// PollInterval is the worker's bounded idle wait between dequeues.
	PollInterval time.Duration
	// FlushTimeout bounds the synchronous drain performed by Stop.
	FlushTimeout time.Duration
	// SweepInterval is how often the removed-test sweep runs. Zero disables it.
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ProjectID:     "default",
		QueueCapacity: 1000,
		PollInterval:  250 * time.Millisecond,
		FlushTimeout:  5 * time.Second,
		SweepInterval: 1 * time.Hour,
	}
}

// Health is the observable state of the service.
type Health struct {
	Running          bool   `json:"running"`
	EventsReceived   uint64 `json:"events_received"`
	EventsProcessed  uint64 `json:"events_processed"`
	EventsDropped    uint64 `json:"events_dropped"`
	SchemaMismatches uint64 `json:"schema_mismatches"`
	QueueSize        int    `json:"queue_size"`
}

// ─── Service ────────────────────────────────────────────────────────────────

// Service owns the bounded queue and the single consumer worker.
type Service struct {
	cfg      Config
	queue    *resilience.Queue
	boundary *resilience.Boundary
	breaker  *resilience.CircuitBreaker

	store     EventStore
	coverage  *coverage.Intelligence
	drift     *drift.Detector
	lifecycle Heartbeater
	notifier  Notifier // nil when no downstream consumer is wired

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
	startMu sync.Mutex

	received   atomic.Uint64
	processed  atomic.Uint64
	mismatches atomic.Uint64

	logf func(format string, v ...any)
}

// New wires the observer service. The breaker guards the durable store;
// notifier may be nil.
func New(cfg Config, store EventStore, cov *coverage.Intelligence, det *drift.Detector,
	lc Heartbeater, breaker *resilience.CircuitBreaker, notifier Notifier) *Service {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultConfig().FlushTimeout
	}
	return &Service{
		cfg:       cfg,
		queue:     resilience.NewQueue(cfg.QueueCapacity),
		boundary:  resilience.NewBoundary(),
		breaker:   breaker,
		store:     store,
		coverage:  cov,
		drift:     det,
		lifecycle: lc,
		notifier:  notifier,
		logf:      log.Printf,
	}
}

// ─── Ingestion (producer side) ──────────────────────────────────────────────

// Offer pushes a validated event onto the queue without blocking. On a full
// queue the event is dropped and counted — the producer is never stalled.
func (s *Service) Offer(e domain.Event) bool {
	if !s.queue.TryEnqueue(e) {
		metrics.EventsDropped.Inc()
		return false
	}
	s.received.Add(1)
	metrics.EventsReceived.WithLabelValues(string(e.Type)).Inc()
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	return true
}

// RecordSchemaMismatch counts an event dropped at validation.
func (s *Service) RecordSchemaMismatch() {
	s.mismatches.Add(1)
	metrics.SchemaMismatches.Inc()
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start spawns the worker. Idempotent: a second call while running is a no-op.
func (s *Service) Start() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()
	s.logf("[observer] started (project=%s queue=%d)", s.cfg.ProjectID, s.queue.Cap())
}

// Stop signals the worker to exit, waits for it, then synchronously drains
// any events still queued under the flush timeout. Safe to call when not
// running.
func (s *Service) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.done

	// Final flush: drain what remains, bounded in time.
	deadline := time.Now().Add(s.cfg.FlushTimeout)
	flushed := 0
	for time.Now().Before(deadline) {
		e, ok := s.queue.TryDequeue()
		if !ok {
			break
		}
		s.process(e)
		flushed++
	}
	if left := s.queue.Len(); left > 0 {
		s.logf("[observer] stopped with %d events unflushed (timeout %s)", left, s.cfg.FlushTimeout)
	} else {
		s.logf("[observer] stopped (flushed %d)", flushed)
	}
}

// Running reports whether the worker is active.
func (s *Service) Running() bool { return s.running.Load() }

// ProjectID returns the project this service observes.
func (s *Service) ProjectID() string { return s.cfg.ProjectID }

// GetHealth reports the service counters.
func (s *Service) GetHealth() Health {
	return Health{
		Running:          s.running.Load(),
		EventsReceived:   s.received.Load(),
		EventsProcessed:  s.processed.Load(),
		EventsDropped:    s.queue.Dropped(),
		SchemaMismatches: s.mismatches.Load(),
		QueueSize:        s.queue.Len(),
	}
}

// StageErrors exposes the per-stage isolation counters.
func (s *Service) StageErrors() map[string]uint64 {
	return s.boundary.ErrorCounts()
}

// QueueHeadroom reports free queue slots, for health checks.
func (s *Service) QueueHeadroom() int {
	return s.queue.Cap() - s.queue.Len()
}

// BreakerSnapshot exposes the store breaker state.
func (s *Service) BreakerSnapshot() resilience.BreakerSnapshot {
	return s.breaker.Snapshot()
}

// ─── Worker ─────────────────────────────────────────────────────────────────

func (s *Service) run() {
	defer close(s.done)

	var sweep *time.Ticker
	var sweepC <-chan time.Time
	if s.cfg.SweepInterval > 0 {
		sweep = time.NewTicker(s.cfg.SweepInterval)
		sweepC = sweep.C
		defer sweep.Stop()
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-sweepC:
			s.runSweep()
		default:
		}

		e, ok := s.queue.Dequeue(s.cfg.PollInterval)
		if !ok {
			continue
		}
		s.process(e)
		metrics.QueueDepth.Set(float64(s.queue.Len()))
	}
}

// process runs the fixed pipeline for one event. Each stage is isolated: a
// failure is logged and counted, and the remaining stages still run.
func (s *Service) process(e domain.Event) {
	s.stage("persist", func() error {
		return s.breaker.Do(func() error { return s.store.InsertEvent(e) })
	})

	s.stage("coverage", func() error {
		return s.coverage.ProcessEvent(e)
	})

	var signals []domain.DriftSignal
	s.stage("drift", func() error {
		signals = s.drift.Analyze(e)
		return s.persistSignals(signals)
	})

	if s.notifier != nil {
		s.stage("notify", func() error {
			return s.notifier.Notify(e, signals)
		})
	}

	s.stage("heartbeat", func() error {
		return s.lifecycle.Heartbeat(s.cfg.ProjectID, e.Timestamp)
	})

	s.processed.Add(1)
	metrics.EventsProcessed.Inc()
	metrics.BreakerState.WithLabelValues("store").Set(float64(s.breaker.State()))
}

// runSweep performs the periodic removed-test pass.
func (s *Service) runSweep() {
	s.stage("sweep", func() error {
		signals, err := s.drift.Sweep()
		if err != nil {
			return err
		}
		return s.persistSignals(signals)
	})
}

func (s *Service) persistSignals(signals []domain.DriftSignal) error {
	for _, sig := range signals {
		metrics.DriftSignals.WithLabelValues(string(sig.Type)).Inc()
		if err := s.breaker.Do(func() error { return s.store.InsertSignal(sig) }); err != nil {
			return err
		}
	}
	return nil
}

// stage runs one pipeline stage through the isolation boundary with latency
// accounting.
func (s *Service) stage(name string, fn func() error) {
	start := time.Now()
	if !s.boundary.Run(name, fn) {
		metrics.StageErrors.WithLabelValues(name).Inc()
	}
	metrics.StageLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
