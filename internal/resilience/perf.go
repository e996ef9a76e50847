package resilience

import (
	"sync"
	"sync/atomic"
	"time"
)

// ─── Performance Monitor ────────────────────────────────────────────────────

const (
	// perfInitialInterval samples every call until volume picks up.
	perfInitialInterval = 1
	// perfMaxInterval caps adaptive backoff at 1 sample per 1024 calls.
	perfMaxInterval = 1024
	// perfSamplesPerDecay is how many samples are taken at each rate before
	// the sampling interval doubles.
	perfSamplesPerDecay = 256
)

// PerfMonitor samples the wall-clock overhead of the hook emitter itself
// (target: under 5% of test duration). Sampling is adaptive: as event volume
// grows the interval doubles, so monitoring cost stays negligible.
type PerfMonitor struct {
	calls atomic.Uint64

	mu       sync.Mutex
	interval uint64
	samples  uint64
	total    time.Duration
	max      time.Duration
}

// PerfSnapshot is a point-in-time view of sampled emitter overhead.
type PerfSnapshot struct {
	Calls       uint64        `json:"calls"`
	Samples     uint64        `json:"samples"`
	AvgOverhead time.Duration `json:"avg_overhead"`
	MaxOverhead time.Duration `json:"max_overhead"`
	Interval    uint64        `json:"sample_interval"`
}

// NewPerfMonitor creates a monitor sampling every call initially.
func NewPerfMonitor() *PerfMonitor {
	return &PerfMonitor{interval: perfInitialInterval}
}

// Sample decides whether this call is measured. It returns a stop function
// to invoke when the call finishes; for unsampled calls the stop function
// is a no-op, so callers always `defer p.Sample()()`.
func (p *PerfMonitor) Sample() func() {
	n := p.calls.Add(1)

	p.mu.Lock()
	interval := p.interval
	p.mu.Unlock()

	if n%interval != 0 {
		return func() {}
	}

	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		p.mu.Lock()
		defer p.mu.Unlock()
		p.samples++
		p.total += elapsed
		if elapsed > p.max {
			p.max = elapsed
		}
		// Back off the sampling rate as volume grows.
		if p.samples%perfSamplesPerDecay == 0 && p.interval < perfMaxInterval {
			p.interval *= 2
		}
	}
}

// Snapshot returns the current overhead statistics.
func (p *PerfMonitor) Snapshot() PerfSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := PerfSnapshot{
		Calls:       p.calls.Load(),
		Samples:     p.samples,
		MaxOverhead: p.max,
		Interval:    p.interval,
	}
	if p.samples > 0 {
		snap.AvgOverhead = p.total / time.Duration(p.samples)
	}
	return snap
}
