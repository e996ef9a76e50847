package resilience

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// ─── Failure Isolation ──────────────────────────────────────────────────────

// Boundary is the structural never-throws guarantee: every pipeline stage
// call runs through Run, which catches errors and panics, logs them with
// stage context, counts them, and returns control. No observer-side failure
// can propagate past a boundary to the host test run.
type Boundary struct {
	mu     sync.Mutex
	errors map[string]uint64 // stage → error count
	logf   func(format string, v ...any)
}

// NewBoundary creates an isolation boundary logging through the stdlib logger.
func NewBoundary() *Boundary {
	return &Boundary{
		errors: make(map[string]uint64),
		logf:   log.Printf,
	}
}

// Run executes fn for the named stage. Errors and panics are absorbed:
// logged, counted per stage, and reported only via the ok return.
func (b *Boundary) Run(stage string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.record(stage, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()

	if err := fn(); err != nil {
		b.record(stage, err)
		return false
	}
	return true
}

func (b *Boundary) record(stage string, err error) {
	b.mu.Lock()
	b.errors[stage]++
	n := b.errors[stage]
	logf := b.logf
	b.mu.Unlock()
	logf("[isolate] stage=%s errors=%d: %v", stage, n, err)
}

// ErrorCount returns the error count for one stage.
func (b *Boundary) ErrorCount(stage string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errors[stage]
}

// ErrorCounts returns a copy of all per-stage error counts.
func (b *Boundary) ErrorCounts() map[string]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]uint64, len(b.errors))
	for k, v := range b.errors {
		out[k] = v
	}
	return out
}

// Stages returns the stage names that have recorded errors, sorted.
func (b *Boundary) Stages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.errors))
	for k := range b.errors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
