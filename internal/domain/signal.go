package domain

import "time"

// ─── Drift Signals ──────────────────────────────────────────────────────────

// SignalType classifies a drift detection.
type SignalType string

const (
	SignalNewTest        SignalType = "new_test"
	SignalRemovedTest    SignalType = "removed_test"
	SignalBehaviorChange SignalType = "behavior_change"
	SignalFlaky          SignalType = "flaky"
)

// Severity ranks how much attention a drift signal deserves.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DriftSignal is an append-only anomaly record. A new detection always
// produces a new signal, even for a recurring condition: the stream doubles
// as a trend history. Signals are never updated except for acknowledgement.
type DriftSignal struct {
	ID             string            `json:"id"`
	Type           SignalType        `json:"signal_type"`
	TestID         string            `json:"test_id"`
	Severity       Severity          `json:"severity"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	DetectedAt     time.Time         `json:"detected_at"`
	Acknowledged   bool              `json:"acknowledged"`
	AcknowledgedAt time.Time         `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string            `json:"acknowledged_by,omitempty"`
}
