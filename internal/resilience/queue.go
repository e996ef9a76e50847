// Package resilience contains the guardrails that keep the observer from
// ever affecting the test run it observes: a bounded drop-on-full queue,
// a circuit breaker around external dependencies, a failure-isolation
// boundary for pipeline stages, and an adaptive overhead monitor.
package resilience

import (
	"sync/atomic"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

// Queue is the bounded FIFO between arbitrarily many producer goroutines and
// the single observer worker. Enqueue is O(1) and non-blocking: on a full
// queue the event is dropped and counted. Drop-newest is the backpressure
// policy — producers are never stalled.
type Queue struct {
	ch      chan domain.Event
	dropped atomic.Uint64
}

// NewQueue creates a queue with the given fixed capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan domain.Event, capacity)}
}

// TryEnqueue offers an event without blocking. Returns false (and counts a
// drop) when the queue is at capacity.
func (q *Queue) TryEnqueue(e domain.Event) bool {
	select {
	case q.ch <- e:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dequeue waits up to timeout for an event. The second return is false when
// the wait expired with nothing available.
func (q *Queue) Dequeue(timeout time.Duration) (domain.Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e := <-q.ch:
		return e, true
	case <-timer.C:
		return domain.Event{}, false
	}
}

// TryDequeue pops an event without waiting. Used by the shutdown drain.
func (q *Queue) TryDequeue() (domain.Event, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return domain.Event{}, false
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns the total number of events dropped on a full queue.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
