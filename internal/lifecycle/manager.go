// Package lifecycle implements the per-project operating-mode state machine.
// Mode transitions are monotonic: MIGRATION→OBSERVER is one-way unless the
// project opted into re-migration before the first transition. Guard methods
// raise a LifecycleViolation — the only error in the engine that is allowed
// to propagate to a caller.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

// Store is the durable backing for lifecycle records.
type Store interface {
	GetState(projectID string) (*domain.LifecycleState, error)
	SaveState(st domain.LifecycleState) error
	ListStates() ([]domain.LifecycleState, error)
}

// Manager owns all lifecycle records. States are cached in memory and
// written through to the store on every mutation. Records are created on
// first touch and never deleted.
type Manager struct {
	mu    sync.Mutex
	store Store
	cache map[string]*domain.LifecycleState
	now   func() time.Time // injectable clock for testing
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		cache: make(map[string]*domain.LifecycleState),
		now:   time.Now,
	}
}

// Get returns the project's state, creating it in MIGRATION mode on first touch.
func (m *Manager) Get(projectID string) (domain.LifecycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return domain.LifecycleState{}, err
	}
	return *st, nil
}

// Lookup returns the project's state without creating it.
func (m *Manager) Lookup(projectID string) (domain.LifecycleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.cache[projectID]; ok {
		return *st, nil
	}
	st, err := m.store.GetState(projectID)
	if err != nil {
		return domain.LifecycleState{}, fmt.Errorf("load lifecycle state: %w", err)
	}
	if st == nil {
		return domain.LifecycleState{}, domain.ErrProjectNotFound
	}
	m.cache[projectID] = st
	return *st, nil
}

// CompleteMigration transitions MIGRATION→OBSERVER. Idempotent: calling it
// again while already observing is a no-op, not an error.
func (m *Manager) CompleteMigration(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return err
	}
	if st.Mode.Observing() {
		return nil // Already completed
	}

	st.Mode = domain.ModeObserver
	st.MigrationCompletedAt = m.now()
	st.ObserverEnabled = true
	return m.save(st)
}

// EnterOptimization moves an observing project into the OPTIMIZATION
// sub-state. Informational only — observer guards treat it as observing.
func (m *Manager) EnterOptimization(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return err
	}
	if !st.Mode.Observing() {
		return &domain.LifecycleViolation{
			ProjectID: projectID, Op: "enter_optimization",
			Want: domain.ModeObserver, Got: st.Mode,
		}
	}
	if st.Mode == domain.ModeOptimization {
		return nil
	}
	st.Mode = domain.ModeOptimization
	return m.save(st)
}

// AllowRemigration records, before the first transition, that this project
// may later reopen migration. Rejected once the project is already observing.
func (m *Manager) AllowRemigration(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return err
	}
	if st.Mode != domain.ModeMigration {
		return &domain.LifecycleViolation{
			ProjectID: projectID, Op: "allow_remigration",
			Want: domain.ModeMigration, Got: st.Mode,
		}
	}
	if st.Metadata == nil {
		st.Metadata = make(map[string]string)
	}
	st.Metadata[domain.AllowRemigrationKey] = "true"
	return m.save(st)
}

// ReopenMigration transitions OBSERVER→MIGRATION. Rejected unless the
// project explicitly opted in via AllowRemigration before completing.
func (m *Manager) ReopenMigration(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return err
	}
	if st.Mode == domain.ModeMigration {
		return nil // Already there
	}
	if st.Metadata[domain.AllowRemigrationKey] != "true" {
		return &domain.LifecycleViolation{
			ProjectID: projectID, Op: "reopen_migration",
			Want: domain.ModeMigration, Got: st.Mode,
		}
	}
	st.Mode = domain.ModeMigration
	st.ObserverEnabled = false
	return m.save(st)
}

// MarkHooksRegistered records that framework hooks are installed.
func (m *Manager) MarkHooksRegistered(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return err
	}
	if st.HooksRegistered {
		return nil
	}
	st.HooksRegistered = true
	return m.save(st)
}

// Heartbeat records event activity for the project. Called by the observer
// pipeline on every processed event.
func (m *Manager) Heartbeat(projectID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return err
	}
	if at.After(st.LastEventAt) {
		st.LastEventAt = at
		return m.save(st)
	}
	return nil
}

// ─── Guards ─────────────────────────────────────────────────────────────────

// EnsureObserverMode raises a LifecycleViolation when the project is not in
// an observing mode. op names the operation for the error message.
func (m *Manager) EnsureObserverMode(projectID, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return err
	}
	if !st.Mode.Observing() {
		return &domain.LifecycleViolation{
			ProjectID: projectID, Op: op,
			Want: domain.ModeObserver, Got: st.Mode,
		}
	}
	return nil
}

// EnsureMigrationMode raises a LifecycleViolation when the project has
// already left migration.
func (m *Manager) EnsureMigrationMode(projectID, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(projectID)
	if err != nil {
		return err
	}
	if st.Mode != domain.ModeMigration {
		return &domain.LifecycleViolation{
			ProjectID: projectID, Op: op,
			Want: domain.ModeMigration, Got: st.Mode,
		}
	}
	return nil
}

// ─── Internal ───────────────────────────────────────────────────────────────

// load returns the cached state, falling back to the store and creating the
// record on first touch. Caller holds the mutex.
func (m *Manager) load(projectID string) (*domain.LifecycleState, error) {
	if st, ok := m.cache[projectID]; ok {
		return st, nil
	}

	st, err := m.store.GetState(projectID)
	if err != nil {
		return nil, fmt.Errorf("load lifecycle state: %w", err)
	}
	if st == nil {
		st = &domain.LifecycleState{
			ProjectID: projectID,
			Mode:      domain.ModeMigration,
		}
		if err := m.store.SaveState(*st); err != nil {
			return nil, fmt.Errorf("create lifecycle state: %w", err)
		}
	}
	m.cache[projectID] = st
	return st, nil
}

// save writes through to the store. Caller holds the mutex.
func (m *Manager) save(st *domain.LifecycleState) error {
	if err := m.store.SaveState(*st); err != nil {
		return fmt.Errorf("save lifecycle state: %w", err)
	}
	return nil
}
