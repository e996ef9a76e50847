package resilience

import (
	"errors"
	"testing"
	"time"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestBreaker(t *testing.T, clock *time.Time) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker("store", BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  1 * time.Second,
	})
	cb.now = func() time.Time { return *clock }
	return cb
}

var errBoom = errors.New("boom")

// ─── State String ───────────────────────────────────────────────────────────

func TestBreakerState_String(t *testing.T) {
	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "CLOSED"},
		{BreakerOpen, "OPEN"},
		{BreakerHalfOpen, "HALF_OPEN"},
		{BreakerState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("BreakerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// ─── Transitions ────────────────────────────────────────────────────────────

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)
	if cb.State() != BreakerClosed {
		t.Errorf("initial state = %s, want CLOSED", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() in CLOSED = %v, want nil", err)
	}
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Fatalf("state after 2 failures = %s, want CLOSED", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("state after 3 failures = %s, want OPEN", cb.State())
	}
}

func TestCircuitBreaker_OpenFastFails(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	err := cb.Allow()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() in OPEN = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_RecoveryToHalfOpen(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clock = clock.Add(1100 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after recovery timeout = %v, want nil", err)
	}
	if cb.State() != BreakerHalfOpen {
		t.Errorf("state after timeout = %s, want HALF_OPEN", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(1100 * time.Millisecond)
	_ = cb.Allow() // → HALF_OPEN

	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("state after one half-open success = %s, want CLOSED", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(1100 * time.Millisecond)
	_ = cb.Allow() // → HALF_OPEN

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("state after half-open failure = %s, want OPEN", cb.State())
	}
	if !errors.Is(cb.Allow(), ErrCircuitOpen) {
		t.Error("Allow() right after reopen should fast-fail")
	}
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess() // streak broken — threshold counts consecutive failures
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Errorf("state = %s, want CLOSED (failures were not consecutive)", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("state = %s, want OPEN", cb.State())
	}
}

// ─── Do wrapper ─────────────────────────────────────────────────────────────

func TestCircuitBreaker_Do(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)

	// Failing calls trip the breaker.
	for i := 0; i < 3; i++ {
		if err := cb.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Do() = %v, want errBoom", err)
		}
	}

	// Fast-fail: the wrapped fn must not run while open.
	ran := false
	err := cb.Do(func() error { ran = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Do() while OPEN = %v, want ErrCircuitOpen", err)
	}
	if ran {
		t.Error("wrapped fn ran while breaker OPEN")
	}

	// Probe succeeds → closed again.
	clock = clock.Add(1100 * time.Millisecond)
	if err := cb.Do(func() error { return nil }); err != nil {
		t.Errorf("Do() probe = %v, want nil", err)
	}
	if cb.State() != BreakerClosed {
		t.Errorf("state after successful probe = %s, want CLOSED", cb.State())
	}
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	snap := cb.Snapshot()
	if snap.Name != "store" {
		t.Errorf("Name = %q, want store", snap.Name)
	}
	if snap.State != BreakerOpen {
		t.Errorf("State = %s, want OPEN", snap.State)
	}
	if snap.TotalTrips != 1 {
		t.Errorf("TotalTrips = %d, want 1", snap.TotalTrips)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := time.Now()
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	if cb.State() != BreakerClosed {
		t.Errorf("state after Reset = %s, want CLOSED", cb.State())
	}
}
