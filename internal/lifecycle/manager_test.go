package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	states map[string]domain.LifecycleState
	saves  int
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]domain.LifecycleState)}
}

func (s *memStore) GetState(projectID string) (*domain.LifecycleState, error) {
	st, ok := s.states[projectID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memStore) SaveState(st domain.LifecycleState) error {
	s.states[st.ProjectID] = st
	s.saves++
	return nil
}

func (s *memStore) ListStates() ([]domain.LifecycleState, error) {
	var out []domain.LifecycleState
	for _, st := range s.states {
		out = append(out, st)
	}
	return out, nil
}

func newTestManager(t *testing.T) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	m := NewManager(store)
	m.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return m, store
}

func asViolation(t *testing.T, err error) *domain.LifecycleViolation {
	t.Helper()
	var v *domain.LifecycleViolation
	if !errors.As(err, &v) {
		t.Fatalf("error = %v (%T), want *LifecycleViolation", err, err)
	}
	return v
}

// ─── First Touch ────────────────────────────────────────────────────────────

func TestManager_CreatesOnFirstTouch(t *testing.T) {
	m, store := newTestManager(t)

	st, err := m.Get("shop")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Mode != domain.ModeMigration {
		t.Errorf("initial mode = %s, want MIGRATION", st.Mode)
	}
	if _, ok := store.states["shop"]; !ok {
		t.Error("first touch did not persist the record")
	}
}

func TestManager_LookupDoesNotCreate(t *testing.T) {
	m, store := newTestManager(t)

	_, err := m.Lookup("ghost")
	if !errors.Is(err, domain.ErrProjectNotFound) {
		t.Errorf("Lookup(unknown) = %v, want ErrProjectNotFound", err)
	}
	if len(store.states) != 0 {
		t.Error("Lookup created a record")
	}
}

// ─── Transitions ────────────────────────────────────────────────────────────

func TestManager_CompleteMigration(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.CompleteMigration("shop"); err != nil {
		t.Fatalf("CompleteMigration: %v", err)
	}
	st, _ := m.Get("shop")
	if st.Mode != domain.ModeObserver {
		t.Errorf("mode = %s, want OBSERVER", st.Mode)
	}
	if !st.ObserverEnabled {
		t.Error("observer_enabled not set")
	}
	if st.MigrationCompletedAt.IsZero() {
		t.Error("migration_completed_at not stamped")
	}
}

func TestManager_CompleteMigrationIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.CompleteMigration("shop"); err != nil {
		t.Fatalf("first CompleteMigration: %v", err)
	}
	first, _ := m.Get("shop")

	if err := m.CompleteMigration("shop"); err != nil {
		t.Fatalf("second CompleteMigration: %v (want no-op)", err)
	}
	second, _ := m.Get("shop")

	if second.Mode != domain.ModeObserver {
		t.Errorf("mode after repeat = %s, want OBSERVER", second.Mode)
	}
	if !second.MigrationCompletedAt.Equal(first.MigrationCompletedAt) {
		t.Error("repeat call restamped migration_completed_at")
	}
}

func TestManager_ReopenMigrationRejectedByDefault(t *testing.T) {
	m, _ := newTestManager(t)
	m.CompleteMigration("shop")

	err := m.ReopenMigration("shop")
	v := asViolation(t, err)
	if v.Op != "reopen_migration" {
		t.Errorf("violation op = %s", v.Op)
	}
	st, _ := m.Get("shop")
	if st.Mode != domain.ModeObserver {
		t.Errorf("mode changed despite rejection: %s", st.Mode)
	}
}

func TestManager_ReopenMigrationWithOptIn(t *testing.T) {
	m, _ := newTestManager(t)

	// Opt in before the first transition, as the contract requires.
	if err := m.AllowRemigration("shop"); err != nil {
		t.Fatalf("AllowRemigration: %v", err)
	}
	m.CompleteMigration("shop")

	if err := m.ReopenMigration("shop"); err != nil {
		t.Fatalf("ReopenMigration with opt-in: %v", err)
	}
	st, _ := m.Get("shop")
	if st.Mode != domain.ModeMigration {
		t.Errorf("mode = %s, want MIGRATION", st.Mode)
	}
}

func TestManager_AllowRemigrationTooLate(t *testing.T) {
	m, _ := newTestManager(t)
	m.CompleteMigration("shop")

	err := m.AllowRemigration("shop")
	asViolation(t, err)
}

func TestManager_EnterOptimization(t *testing.T) {
	m, _ := newTestManager(t)

	// Not legal from MIGRATION.
	asViolation(t, m.EnterOptimization("shop"))

	m.CompleteMigration("shop")
	if err := m.EnterOptimization("shop"); err != nil {
		t.Fatalf("EnterOptimization: %v", err)
	}
	st, _ := m.Get("shop")
	if st.Mode != domain.ModeOptimization {
		t.Errorf("mode = %s, want OPTIMIZATION", st.Mode)
	}

	// Observer guard still passes — OPTIMIZATION is a sub-state of OBSERVER.
	if err := m.EnsureObserverMode("shop", "process_event"); err != nil {
		t.Errorf("EnsureObserverMode in OPTIMIZATION = %v, want nil", err)
	}
}

// ─── Guards ─────────────────────────────────────────────────────────────────

func TestManager_EnsureObserverMode(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.EnsureObserverMode("shop", "process_event")
	v := asViolation(t, err)
	if v.Got != domain.ModeMigration || v.Want != domain.ModeObserver {
		t.Errorf("violation = %+v", v)
	}

	m.CompleteMigration("shop")
	if err := m.EnsureObserverMode("shop", "process_event"); err != nil {
		t.Errorf("EnsureObserverMode after completion = %v, want nil", err)
	}
}

func TestManager_EnsureMigrationMode(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.EnsureMigrationMode("shop", "convert_test"); err != nil {
		t.Errorf("EnsureMigrationMode in MIGRATION = %v, want nil", err)
	}

	m.CompleteMigration("shop")
	asViolation(t, m.EnsureMigrationMode("shop", "convert_test"))
}

// ─── Heartbeat ──────────────────────────────────────────────────────────────

func TestManager_Heartbeat(t *testing.T) {
	m, _ := newTestManager(t)
	m.CompleteMigration("shop")

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := m.Heartbeat("shop", t1); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	st, _ := m.Get("shop")
	if !st.LastEventAt.Equal(t1) {
		t.Errorf("last_event_at = %v, want %v", st.LastEventAt, t1)
	}

	// Out-of-order heartbeats never move last_event_at backwards.
	if err := m.Heartbeat("shop", t1.Add(-time.Hour)); err != nil {
		t.Fatalf("Heartbeat (stale): %v", err)
	}
	st, _ = m.Get("shop")
	if !st.LastEventAt.Equal(t1) {
		t.Errorf("stale heartbeat moved last_event_at to %v", st.LastEventAt)
	}
}

func TestManager_MarkHooksRegistered(t *testing.T) {
	m, store := newTestManager(t)

	if err := m.MarkHooksRegistered("shop"); err != nil {
		t.Fatalf("MarkHooksRegistered: %v", err)
	}
	st, _ := m.Get("shop")
	if !st.HooksRegistered {
		t.Error("hooks_registered not set")
	}

	saves := store.saves
	m.MarkHooksRegistered("shop") // no-op
	if store.saves != saves {
		t.Error("repeat MarkHooksRegistered re-saved the record")
	}
}
