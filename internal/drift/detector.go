// Package drift implements stateful anomaly detection over the execution
// event stream. Four detections: new tests, removed tests, behavior changes
// (duration shift), and flakiness (status oscillation).
//
// The detector keeps a bounded in-memory history per test plus queryable
// access to the durable event log, so new-test detection survives process
// restarts. Signals are append-only: a persistently flaky test re-emits on
// every detection pass, forming a trend history rather than a deduplicated
// alert list.
package drift

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// DefaultDurationDelta is the relative duration change that triggers a
	// behavior_change signal (0.5 = 50%).
	DefaultDurationDelta = 0.5

	// DefaultOscillationRate is the adjacent-status-flip rate that triggers
	// a flaky signal.
	DefaultOscillationRate = 0.3

	// DefaultWindowSize is how many test_end events feed the flakiness and
	// behavior-change windows.
	DefaultWindowSize = 10

	// DefaultHistoryLimit bounds the per-test in-memory event history.
	DefaultHistoryLimit = 20

	// DefaultRemovedAfter is how long a test may stay silent before the
	// sweep reports it as removed.
	DefaultRemovedAfter = 7 * 24 * time.Hour
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the drift detector. The thresholds are deliberate policy
// constants, surfaced as configuration rather than adaptive.
type Config struct {
	DurationDelta   float64       // relative duration change for behavior_change
	OscillationRate float64       // flip rate for flaky
	WindowSize      int           // test_end events per analysis window
	HistoryLimit    int           // in-memory events retained per test
	RemovedAfter    time.Duration // silence before removed_test
}

// DefaultConfig returns the stock detection thresholds.
func DefaultConfig() Config {
	return Config{
		DurationDelta:   DefaultDurationDelta,
		OscillationRate: DefaultOscillationRate,
		WindowSize:      DefaultWindowSize,
		HistoryLimit:    DefaultHistoryLimit,
		RemovedAfter:    DefaultRemovedAfter,
	}
}

// ─── Store Access ───────────────────────────────────────────────────────────

// Store is the durable event log the detector consults for cross-process
// detections. Satisfied by *sqlite.DB.
type Store interface {
	CountEventsForTest(testID string) (int64, error)
	RecentDurations(testID string, limit int) ([]float64, error)
	RecentStatuses(testID string, limit int) ([]string, error)
	LastEventTimes() (map[string]time.Time, error)
}

// ─── Detector ───────────────────────────────────────────────────────────────

// testHistory is the bounded per-test in-memory record.
type testHistory struct {
	durations []float64 // newest last, test_end only
	statuses  []string  // newest last, test_end only
	events    int
}

// Detector analyzes the event stream. Thread-safe via mutex; in the single
// engine deployment only the observer worker calls Analyze, while Sweep may
// run from a separate goroutine.
type Detector struct {
	mu      sync.Mutex
	config  Config
	store   Store
	history map[string]*testHistory
	removed map[string]time.Time // testID → last_event_at when reported removed
	now     func() time.Time     // injectable clock for testing
	newID   func() string
}

// NewDetector creates a drift detector over the durable event log.
func NewDetector(cfg Config, store Store) *Detector {
	if cfg.WindowSize <= 1 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.HistoryLimit < cfg.WindowSize {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.DurationDelta <= 0 {
		cfg.DurationDelta = DefaultDurationDelta
	}
	if cfg.OscillationRate <= 0 {
		cfg.OscillationRate = DefaultOscillationRate
	}
	if cfg.RemovedAfter <= 0 {
		cfg.RemovedAfter = DefaultRemovedAfter
	}
	return &Detector{
		config:  cfg,
		store:   store,
		history: make(map[string]*testHistory),
		removed: make(map[string]time.Time),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// Analyze inspects one event and returns any drift signals it produces.
// Called after the event has been persisted, so durable-store counts
// include the event under analysis.
func (d *Detector) Analyze(e domain.Event) []domain.DriftSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	var signals []domain.DriftSignal

	if sig := d.checkNewTest(e); sig != nil {
		signals = append(signals, *sig)
	}

	if e.Type == domain.EventTestEnd {
		if sig := d.checkBehaviorChange(e); sig != nil {
			signals = append(signals, *sig)
		}
		d.recordRun(e)
		if sig := d.checkFlaky(e); sig != nil {
			signals = append(signals, *sig)
		}
	}

	h := d.getOrCreateHistory(e.TestID)
	h.events++
	// A silent test that reappears becomes eligible for a fresh
	// removed_test report if it falls silent again.
	delete(d.removed, e.TestID)

	return signals
}

// Sweep runs the removed-test pass: any test whose newest event is older
// than the configured silence window is reported. A test is reported once
// per disappearance; reappearing resets the report.
func (d *Detector) Sweep() ([]domain.DriftSignal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	lastSeen, err := d.store.LastEventTimes()
	if err != nil {
		return nil, fmt.Errorf("drift sweep: %w", err)
	}

	cutoff := d.now().Add(-d.config.RemovedAfter)
	var signals []domain.DriftSignal
	for testID, last := range lastSeen {
		if !last.Before(cutoff) {
			continue
		}
		if reported, ok := d.removed[testID]; ok && reported.Equal(last) {
			continue // Already reported for this disappearance
		}
		d.removed[testID] = last
		signals = append(signals, domain.DriftSignal{
			ID:       d.newID(),
			Type:     domain.SignalRemovedTest,
			TestID:   testID,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("no events since %s (threshold %s)",
				last.Format(time.RFC3339), d.config.RemovedAfter),
			Metadata:   map[string]string{"last_event_at": last.Format(time.RFC3339)},
			DetectedAt: d.now(),
		})
	}
	return signals, nil
}

// ─── Checks ─────────────────────────────────────────────────────────────────

// checkNewTest fires exactly once, the first time a test id is seen against
// both the in-memory registry and the durable store.
func (d *Detector) checkNewTest(e domain.Event) *domain.DriftSignal {
	if h, ok := d.history[e.TestID]; ok && h.events > 0 {
		return nil
	}

	// The event under analysis is already persisted, so a count above one
	// means the store knew this test before.
	count, err := d.store.CountEventsForTest(e.TestID)
	if err == nil && count > 1 {
		return nil
	}

	return &domain.DriftSignal{
		ID:          d.newID(),
		Type:        domain.SignalNewTest,
		TestID:      e.TestID,
		Severity:    domain.SeverityLow,
		Description: fmt.Sprintf("first observation of test %q (framework %s)", e.TestID, e.Framework),
		Metadata:    map[string]string{"framework": e.Framework},
		DetectedAt:  d.now(),
	}
}

// checkBehaviorChange compares the current duration against the mean of the
// previous runs (up to WindowSize). Called before the current run is
// recorded, so the baseline excludes it.
func (d *Detector) checkBehaviorChange(e domain.Event) *domain.DriftSignal {
	if e.DurationMS <= 0 {
		return nil
	}

	prior := d.priorDurations(e.TestID)
	if len(prior) == 0 {
		return nil
	}

	var sum float64
	for _, v := range prior {
		sum += v
	}
	mean := sum / float64(len(prior))
	if mean <= 0 {
		return nil
	}

	delta := math.Abs(e.DurationMS-mean) / mean
	if delta <= d.config.DurationDelta {
		return nil
	}

	return &domain.DriftSignal{
		ID:       d.newID(),
		Type:     domain.SignalBehaviorChange,
		TestID:   e.TestID,
		Severity: domain.SeverityMedium,
		Description: fmt.Sprintf("duration %.0fms deviates %.0f%% from mean %.0fms over last %d runs",
			e.DurationMS, delta*100, mean, len(prior)),
		Metadata: map[string]string{
			"duration_ms": fmt.Sprintf("%.0f", e.DurationMS),
			"mean_ms":     fmt.Sprintf("%.0f", mean),
			"delta_pct":   fmt.Sprintf("%.0f", delta*100),
		},
		DetectedAt: d.now(),
	}
}

// checkFlaky computes the status oscillation rate over the last full window:
// adjacent flips / (window − 1). Called after the current run is recorded.
func (d *Detector) checkFlaky(e domain.Event) *domain.DriftSignal {
	statuses := d.recentStatuses(e.TestID)
	if len(statuses) < d.config.WindowSize {
		return nil
	}
	statuses = statuses[len(statuses)-d.config.WindowSize:]

	flips := 0
	for i := 1; i < len(statuses); i++ {
		if statuses[i] != statuses[i-1] {
			flips++
		}
	}
	rate := float64(flips) / float64(len(statuses)-1)
	if rate <= d.config.OscillationRate {
		return nil
	}

	return &domain.DriftSignal{
		ID:       d.newID(),
		Type:     domain.SignalFlaky,
		TestID:   e.TestID,
		Severity: domain.SeverityHigh,
		Description: fmt.Sprintf("status flipped %d times over last %d runs (rate %.2f)",
			flips, len(statuses), rate),
		Metadata: map[string]string{
			"flips": fmt.Sprintf("%d", flips),
			"rate":  fmt.Sprintf("%.2f", rate),
		},
		DetectedAt: d.now(),
	}
}

// ─── History ────────────────────────────────────────────────────────────────

// priorDurations returns the baseline durations for behavior-change
// analysis: the in-memory history, or the durable log after a restart.
// Excludes the event under analysis.
func (d *Detector) priorDurations(testID string) []float64 {
	if h, ok := d.history[testID]; ok && len(h.durations) > 0 {
		start := 0
		if len(h.durations) > d.config.WindowSize {
			start = len(h.durations) - d.config.WindowSize
		}
		return h.durations[start:]
	}

	// Fresh process: fall back to the store. The current event is already
	// persisted and newest-first, so skip it.
	stored, err := d.store.RecentDurations(testID, d.config.WindowSize+1)
	if err != nil || len(stored) <= 1 {
		return nil
	}
	return stored[1:]
}

// recentStatuses returns the status window, oldest first, including the
// current run. Falls back to the durable log on a fresh process.
func (d *Detector) recentStatuses(testID string) []string {
	if h, ok := d.history[testID]; ok && len(h.statuses) >= d.config.WindowSize {
		return h.statuses
	}

	stored, err := d.store.RecentStatuses(testID, d.config.WindowSize)
	if err != nil || len(stored) == 0 {
		if h, ok := d.history[testID]; ok {
			return h.statuses
		}
		return nil
	}
	// Store returns newest first; the flip count is direction-agnostic but
	// keep oldest-first for consistency.
	out := make([]string, len(stored))
	for i, s := range stored {
		out[len(stored)-1-i] = s
	}
	return out
}

// recordRun appends a test_end run to the bounded in-memory history.
func (d *Detector) recordRun(e domain.Event) {
	h := d.getOrCreateHistory(e.TestID)
	if e.DurationMS > 0 {
		h.durations = append(h.durations, e.DurationMS)
		if len(h.durations) > d.config.HistoryLimit {
			h.durations = h.durations[len(h.durations)-d.config.HistoryLimit:]
		}
	}
	if e.Status != "" {
		h.statuses = append(h.statuses, e.Status)
		if len(h.statuses) > d.config.HistoryLimit {
			h.statuses = h.statuses[len(h.statuses)-d.config.HistoryLimit:]
		}
	}
}

func (d *Detector) getOrCreateHistory(testID string) *testHistory {
	if h, ok := d.history[testID]; ok {
		return h
	}
	h := &testHistory{}
	d.history[testID] = h
	return h
}

// TrackedTests returns how many test ids the detector currently holds
// in-memory history for.
func (d *Detector) TrackedTests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}
