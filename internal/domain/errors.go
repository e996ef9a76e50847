package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// ErrInvalidEvent marks an event failing required-field validation.
	// Emitters drop such events and count a schema mismatch; the error
	// never reaches the host test run.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrSignalNotFound is returned when acknowledging an unknown drift signal.
	ErrSignalNotFound = errors.New("drift signal not found")

	// ErrProjectNotFound is returned by read-only lifecycle lookups for a
	// project the engine has never seen.
	ErrProjectNotFound = errors.New("project not found")
)
