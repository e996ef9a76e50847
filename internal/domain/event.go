// Package domain defines the core types of the Sentinel observability engine:
// the canonical execution event, the coverage graph vocabulary, drift signals,
// and the project lifecycle state machine.
package domain

import (
	"fmt"
	"time"
)

// SchemaVersion is the current event contract version. Events carry it so a
// future consumer can tell which producer generation wrote them.
const SchemaVersion = "1.0"

// ─── Event Types ────────────────────────────────────────────────────────────

// EventType classifies an observed execution fact.
type EventType string

const (
	EventTestStart     EventType = "test_start"
	EventTestEnd       EventType = "test_end"
	EventStep          EventType = "step"
	EventAPICall       EventType = "api_call"
	EventUIInteraction EventType = "ui_interaction"
	EventAssertion     EventType = "assertion"
	EventError         EventType = "error"
)

// Valid reports whether the event type is one of the known variants.
func (t EventType) Valid() bool {
	switch t {
	case EventTestStart, EventTestEnd, EventStep, EventAPICall,
		EventUIInteraction, EventAssertion, EventError:
		return true
	}
	return false
}

// Test statuses carried on test_end events.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Well-known metadata keys set by the hook emitter and read by the coverage
// intelligence when deriving graph merges.
const (
	MetaEndpoint        = "endpoint"
	MetaMethod          = "method"
	MetaStatusCode      = "status_code"
	MetaComponentName   = "component_name"
	MetaInteractionType = "interaction_type"
	MetaPageURL         = "page_url"
	MetaStepName        = "step_name"
	MetaStepStatus      = "step_status"
)

// ─── Event ──────────────────────────────────────────────────────────────────

// Event is an immutable fact observed during a test run. It is produced by a
// framework hook, queued, and consumed exactly once by the observer worker.
// Events pass through the queue by value and are never mutated after creation.
type Event struct {
	Type          EventType         `json:"event_type"`
	Framework     string            `json:"framework"`
	TestID        string            `json:"test_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        string            `json:"status,omitempty"`
	DurationMS    float64           `json:"duration_ms,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	StackTrace    string            `json:"stack_trace,omitempty"`
	AppVersion    string            `json:"application_version,omitempty"`
	ProductName   string            `json:"product_name,omitempty"`
	Environment   string            `json:"environment,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	SchemaVersion string            `json:"schema_version"`
}

// Validate checks the required fields of the event contract. An event failing
// validation is dropped at the emitter and counted as a schema mismatch.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("event_type %q: %w", string(e.Type), ErrInvalidEvent)
	}
	if e.Framework == "" {
		return fmt.Errorf("framework missing: %w", ErrInvalidEvent)
	}
	if e.TestID == "" {
		return fmt.Errorf("test_id missing: %w", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing: %w", ErrInvalidEvent)
	}
	return nil
}

// Meta returns a metadata value, or "" when the key is absent.
func (e Event) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}
