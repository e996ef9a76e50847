package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentinel-ci/sentinel/internal/coverage"
	"github.com/sentinel-ci/sentinel/internal/drift"
	"github.com/sentinel-ci/sentinel/internal/infra/sqlite"
	"github.com/sentinel-ci/sentinel/internal/lifecycle"
	"github.com/sentinel-ci/sentinel/internal/observer"
	"github.com/sentinel-ci/sentinel/internal/resilience"
)

func newManualChecker(checks ...Check) *Checker {
	return &Checker{checks: checks}
}

func TestChecker_AllHealthy(t *testing.T) {
	c := newManualChecker(
		Check{Name: "a", CheckFn: func(ctx context.Context) error { return nil }},
		Check{Name: "b", CheckFn: func(ctx context.Context) error { return nil }},
	)
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("IsHealthy = false, want true")
	}
	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy || s.Error != "" || s.CheckedAt.IsZero() {
			t.Errorf("status %q = %+v", s.Name, s)
		}
	}
}

func TestChecker_FailureReported(t *testing.T) {
	c := newManualChecker(
		Check{Name: "ok", CheckFn: func(ctx context.Context) error { return nil }},
		Check{Name: "bad", CheckFn: func(ctx context.Context) error {
			return errors.New("store unreachable")
		}},
	)
	c.runAll(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy = true with a failing check")
	}
	for _, s := range c.Statuses() {
		if s.Name == "bad" {
			if s.Healthy || s.Error != "store unreachable" {
				t.Errorf("bad status = %+v", s)
			}
		}
	}
}

func TestChecker_RecoveryAttempted(t *testing.T) {
	recovered := false
	failing := true
	c := newManualChecker(Check{
		Name: "worker",
		CheckFn: func(ctx context.Context) error {
			if failing {
				return errors.New("worker down")
			}
			return nil
		},
		RecoverFn: func(ctx context.Context) error {
			recovered = true
			failing = false
			return nil
		},
	})

	c.runAll(context.Background())
	if !recovered {
		t.Fatal("recovery not attempted on failure")
	}
	if c.IsHealthy() {
		t.Error("status reflects pre-recovery result, want unhealthy this cycle")
	}

	// Next cycle observes the recovered state.
	c.runAll(context.Background())
	if !c.IsHealthy() {
		t.Error("IsHealthy = false after recovery")
	}
}

func TestChecker_EmptyStatusesHealthy(t *testing.T) {
	c := newManualChecker()
	if !c.IsHealthy() {
		t.Error("checker with no results should report healthy")
	}
}

func TestChecker_WorkerCheckRespectsLifecycleGate(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lc := lifecycle.NewManager(db)
	cov := coverage.New(db)
	det := drift.NewDetector(drift.DefaultConfig(), db)
	breaker := resilience.NewCircuitBreaker("store", resilience.DefaultBreakerConfig())
	svc := observer.New(observer.Config{
		ProjectID:    "shop",
		PollInterval: 10 * time.Millisecond,
	}, db, cov, det, lc, breaker, nil)
	t.Cleanup(svc.Stop)

	c := NewChecker(db, svc, lc)

	// MIGRATION mode: a parked worker is the expected state, not a failure.
	c.runAll(context.Background())
	if !c.IsHealthy() {
		t.Fatalf("parked worker reported unhealthy in MIGRATION mode: %+v", c.Statuses())
	}
	if svc.Running() {
		t.Fatal("recovery started the worker for a migrating project")
	}

	// Once the project is observing, a parked worker is a failure and
	// recovery restarts it.
	if err := lc.CompleteMigration("shop"); err != nil {
		t.Fatalf("complete migration: %v", err)
	}
	c.runAll(context.Background())
	if !svc.Running() {
		t.Error("worker not recovered once the project is observing")
	}
}
