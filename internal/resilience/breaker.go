package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ─── Circuit Breaker ────────────────────────────────────────────────────────
// States:
//   - CLOSED    (normal) → consecutive failures reach threshold → OPEN
//   - OPEN      (blocking) → after recovery timeout → HALF_OPEN
//   - HALF_OPEN (probing) → one success → CLOSED, one failure → OPEN

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation — calls pass through
	BreakerOpen                         // Tripped — calls rejected immediately
	BreakerHalfOpen                     // Recovery probe — one call decides
)

// String returns a human-readable breaker state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip (default 5)
	RecoveryTimeout  time.Duration // time in OPEN before probing (default 30s)
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker guards a named external dependency (the durable store, the
// intelligence hand-off). State is transient, held in memory, and rebuilt on
// process start. Thread-safe for concurrent use.
type CircuitBreaker struct {
	mu         sync.Mutex
	name       string
	config     BreakerConfig
	state      BreakerState
	failures   int
	lastFail   time.Time
	trippedAt  time.Time
	totalTrips int
	now        func() time.Time // injectable clock for testing
}

// NewCircuitBreaker creates a breaker with the given name and config.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  BreakerClosed,
		now:    time.Now,
	}
}

// Allow checks whether a call should be permitted. Returns ErrCircuitOpen
// (wrapped with the breaker name) while the circuit is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if cb.now().Sub(cb.trippedAt) >= cb.config.RecoveryTimeout {
			cb.state = BreakerHalfOpen
			return nil
		}
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}
	return nil
}

// RecordSuccess records a successful call. In HALF_OPEN a single success
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerClosed
		cb.failures = 0
	case BreakerClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call. May trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFail = cb.now()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = BreakerOpen
			cb.trippedAt = cb.now()
			cb.totalTrips++
		}
	case BreakerHalfOpen:
		// The probe failed — back to open.
		cb.state = BreakerOpen
		cb.trippedAt = cb.now()
		cb.totalTrips++
	}
}

// Do runs fn through the breaker: fast-fails while open, records the
// outcome otherwise.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current breaker state, auto-transitioning OPEN →
// HALF_OPEN once the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen && cb.now().Sub(cb.trippedAt) >= cb.config.RecoveryTimeout {
		cb.state = BreakerHalfOpen
	}
	return cb.state
}

// BreakerSnapshot is a point-in-time view of a circuit breaker.
type BreakerSnapshot struct {
	Name        string       `json:"name"`
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	TotalTrips  int          `json:"total_trips"`
	LastFailure time.Time    `json:"last_failure,omitempty"`
	TrippedAt   time.Time    `json:"tripped_at,omitempty"`
}

// Snapshot returns the current state snapshot.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	// Read state directly (not via cb.State()) to avoid mutex re-entrance.
	st := cb.state
	if st == BreakerOpen && cb.now().Sub(cb.trippedAt) >= cb.config.RecoveryTimeout {
		st = BreakerHalfOpen
		cb.state = BreakerHalfOpen
	}
	return BreakerSnapshot{
		Name:        cb.name,
		State:       st,
		Failures:    cb.failures,
		TotalTrips:  cb.totalTrips,
		LastFailure: cb.lastFail,
		TrippedAt:   cb.trippedAt,
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
}
