package domain

import (
	"fmt"
	"time"
)

// ─── Lifecycle Modes ────────────────────────────────────────────────────────

// Mode is the per-project operating mode of the engine.
type Mode string

const (
	// ModeMigration is the initial mode while test conversion is in flight.
	ModeMigration Mode = "MIGRATION"
	// ModeObserver is the permanent post-migration mode: the engine only
	// watches test execution, never drives it.
	ModeObserver Mode = "OBSERVER"
	// ModeOptimization is an informational sub-state of OBSERVER. It does
	// not gate behavior differently; observer-mode guards accept it.
	ModeOptimization Mode = "OPTIMIZATION"
)

// Valid reports whether the mode is one of the known variants.
func (m Mode) Valid() bool {
	switch m {
	case ModeMigration, ModeObserver, ModeOptimization:
		return true
	}
	return false
}

// Observing reports whether the mode permits observer operations.
func (m Mode) Observing() bool {
	return m == ModeObserver || m == ModeOptimization
}

// AllowRemigrationKey is the lifecycle metadata key that, when set to "true"
// before the first MIGRATION→OBSERVER transition, permits reopening migration.
const AllowRemigrationKey = "allow_remigration"

// LifecycleState is the per-project state machine record. Created on first
// touch, mutated only by the lifecycle manager, never deleted.
type LifecycleState struct {
	ProjectID            string            `json:"project_id"`
	Mode                 Mode              `json:"mode"`
	MigrationCompletedAt time.Time         `json:"migration_completed_at,omitempty"`
	ObserverEnabled      bool              `json:"observer_enabled"`
	HooksRegistered      bool              `json:"hooks_registered"`
	LastEventAt          time.Time         `json:"last_event_at,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// ─── Lifecycle Violation ────────────────────────────────────────────────────

// LifecycleViolation is raised when an operation is attempted in the wrong
// mode. It is a programming-contract check, intentionally loud: the one error
// in this subsystem allowed to propagate to a caller.
type LifecycleViolation struct {
	ProjectID string
	Op        string
	Want      Mode
	Got       Mode
}

func (e *LifecycleViolation) Error() string {
	return fmt.Sprintf("lifecycle violation: %s requires %s mode, project %q is in %s",
		e.Op, e.Want, e.ProjectID, e.Got)
}
