// Package health provides periodic self-checks for the observer daemon
// with auto-recovery where a safe recovery action exists.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinel-ci/sentinel/internal/infra/metrics"
	"github.com/sentinel-ci/sentinel/internal/infra/sqlite"
	"github.com/sentinel-ci/sentinel/internal/lifecycle"
	"github.com/sentinel-ci/sentinel/internal/observer"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks and republishes their results as
// metrics.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a health checker wired to the daemon's store and
// observer service.
func NewChecker(db *sqlite.DB, svc *observer.Service, lc *lifecycle.Manager) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "store",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
				// SQLite auto-recovers via WAL
			},
			{
				Name: "worker",
				CheckFn: func(ctx context.Context) error {
					if svc.Running() {
						return nil
					}
					st, err := lc.Get(svc.ProjectID())
					if err != nil {
						return err
					}
					if !st.Mode.Observing() {
						// Gated off until migration completes: expected.
						return nil
					}
					return fmt.Errorf("observer worker not running")
				},
				RecoverFn: func(ctx context.Context) error {
					svc.Start()
					return nil
				},
			},
			{
				Name: "queue_capacity",
				CheckFn: func(ctx context.Context) error {
					if svc.QueueHeadroom() == 0 {
						return fmt.Errorf("event queue saturated (%d dropped)",
							svc.GetHealth().EventsDropped)
					}
					return nil
				},
				// No recovery action: the worker drains on its own
				// once the store catches up.
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			// Attempt recovery
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s

		v := 0.0
		if s.Healthy {
			v = 1.0
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(v)
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
