package resilience

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

func testEvent(id string) domain.Event {
	return domain.Event{
		Type:          domain.EventTestStart,
		Framework:     "pytest",
		TestID:        id,
		Timestamp:     time.Now(),
		SchemaVersion: domain.SchemaVersion,
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(8)
	for i := 0; i < 3; i++ {
		if !q.TryEnqueue(testEvent(fmt.Sprintf("t%d", i))) {
			t.Fatalf("enqueue %d failed on non-full queue", i)
		}
	}
	for i := 0; i < 3; i++ {
		e, ok := q.TryDequeue()
		if !ok {
			t.Fatalf("dequeue %d: queue empty", i)
		}
		if want := fmt.Sprintf("t%d", i); e.TestID != want {
			t.Errorf("dequeue %d = %s, want %s", i, e.TestID, want)
		}
	}
}

func TestQueue_DropNewestOnFull(t *testing.T) {
	const capacity = 5
	q := NewQueue(capacity)

	// K+1 enqueues with no consumer: exactly one drop, no error at call site.
	for i := 0; i < capacity; i++ {
		if !q.TryEnqueue(testEvent("t")) {
			t.Fatalf("enqueue %d failed below capacity", i)
		}
	}
	if q.TryEnqueue(testEvent("overflow")) {
		t.Error("enqueue beyond capacity succeeded, want drop")
	}
	if got := q.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if got := q.Len(); got != capacity {
		t.Errorf("Len() = %d, want %d", got, capacity)
	}
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q := NewQueue(1)
	start := time.Now()
	_, ok := q.Dequeue(20 * time.Millisecond)
	if ok {
		t.Error("Dequeue on empty queue returned an event")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Dequeue returned after %v, want >= 20ms", elapsed)
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 50
	q := NewQueue(producers * perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.TryEnqueue(testEvent("t"))
			}
		}()
	}
	wg.Wait()

	if got := q.Len(); got != producers*perProducer {
		t.Errorf("Len() = %d, want %d", got, producers*perProducer)
	}
	if got := q.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestQueue_MinimumCapacity(t *testing.T) {
	q := NewQueue(0)
	if q.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", q.Cap())
	}
}
