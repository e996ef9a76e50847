package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sentinel-ci/sentinel/internal/coverage"
	"github.com/sentinel-ci/sentinel/internal/domain"
	"github.com/sentinel-ci/sentinel/internal/drift"
	"github.com/sentinel-ci/sentinel/internal/hooks"
	"github.com/sentinel-ci/sentinel/internal/infra/sqlite"
	"github.com/sentinel-ci/sentinel/internal/lifecycle"
	"github.com/sentinel-ci/sentinel/internal/observer"
	"github.com/sentinel-ci/sentinel/internal/resilience"
)

// ─── Fixtures ───────────────────────────────────────────────────────────────

type apiRig struct {
	handler http.Handler
	db      *sqlite.DB
	svc     *observer.Service
	lc      *lifecycle.Manager
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lc := lifecycle.NewManager(db)
	cov := coverage.New(db)
	det := drift.NewDetector(drift.DefaultConfig(), db)
	breaker := resilience.NewCircuitBreaker("store", resilience.DefaultBreakerConfig())
	svc := observer.New(observer.Config{
		ProjectID:    "shop",
		PollInterval: 10 * time.Millisecond,
	}, db, cov, det, lc, breaker, nil)
	t.Cleanup(svc.Stop)
	svc.Start()

	em := hooks.NewEmitter(hooks.Config{Framework: "playwright"}, svc)
	srv := NewServer(svc, cov, db, lc, em)
	return &apiRig{handler: srv.Handler(), db: db, svc: svc, lc: lc}
}

func (rig *apiRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func waitProcessed(t *testing.T, svc *observer.Service, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.GetHealth().EventsProcessed >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker did not process %d events in time", n)
}

// ─── Probes ─────────────────────────────────────────────────────────────────

func TestAPI_Health(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
}

func TestAPI_ReadyWithoutChecker(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /ready = %d, want 200", rec.Code)
	}
}

func TestAPI_Status(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/status = %d, want 200", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	obs, ok := body["observer"].(map[string]any)
	if !ok {
		t.Fatalf("status missing observer section: %v", body)
	}
	if obs["running"] != true {
		t.Errorf("observer.running = %v, want true", obs["running"])
	}
}

// ─── Ingestion ──────────────────────────────────────────────────────────────

func TestAPI_IngestEvent(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, http.MethodPost, "/api/events", `{
		"event_type": "api_call",
		"test_id": "checkout",
		"metadata": {"endpoint": "/api/orders", "method": "POST"}
	}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/events = %d, want 202", rec.Code)
	}
	waitProcessed(t, rig.svc, 1)

	count, err := rig.db.CountEventsForTest("checkout")
	if err != nil {
		t.Fatalf("CountEventsForTest: %v", err)
	}
	if count != 1 {
		t.Errorf("persisted events = %d, want 1", count)
	}
}

func TestAPI_IngestEventBadBody(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/events", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /api/events with bad body = %d, want 400", rec.Code)
	}
}

func TestAPI_IngestInvalidEventStillAccepted(t *testing.T) {
	rig := newAPIRig(t)
	// Well-formed JSON, invalid contract: dropped downstream, counted,
	// still 202 because emission is fire-and-forget.
	rec := rig.do(t, http.MethodPost, "/api/events", `{"event_type": "bogus"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/events = %d, want 202", rec.Code)
	}
	if got := rig.svc.GetHealth().SchemaMismatches; got != 1 {
		t.Errorf("SchemaMismatches = %d, want 1", got)
	}
}

// ─── Coverage ───────────────────────────────────────────────────────────────

func TestAPI_TestCoverage(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/api/events", `{
		"event_type": "api_call",
		"test_id": "checkout",
		"metadata": {"endpoint": "/api/orders", "method": "POST"}
	}`)
	waitProcessed(t, rig.svc, 1)

	rec := rig.do(t, http.MethodGet, "/api/coverage/tests/checkout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET coverage = %d, want 200", rec.Code)
	}
	var cov coverage.TestCoverage
	decodeBody(t, rec, &cov)
	if cov.TestID != "checkout" || len(cov.Edges) != 1 {
		t.Errorf("coverage = %+v, want one edge for checkout", cov)
	}
}

func TestAPI_ImpactedTests(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/api/events", `{
		"event_type": "api_call",
		"test_id": "checkout",
		"metadata": {"endpoint": "/api/orders", "method": "POST"}
	}`)
	waitProcessed(t, rig.svc, 1)

	rec := rig.do(t, http.MethodGet, "/api/coverage/impacted?resource_id=/api/orders&resource_type=api", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET impacted = %d, want 200", rec.Code)
	}
	var body struct {
		ImpactedTests []string `json:"impacted_tests"`
	}
	decodeBody(t, rec, &body)
	if len(body.ImpactedTests) != 1 || body.ImpactedTests[0] != "checkout" {
		t.Errorf("impacted = %v, want [checkout]", body.ImpactedTests)
	}
}

func TestAPI_ImpactedTestsValidation(t *testing.T) {
	rig := newAPIRig(t)
	if rec := rig.do(t, http.MethodGet, "/api/coverage/impacted?resource_type=api", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing resource_id = %d, want 400", rec.Code)
	}
	if rec := rig.do(t, http.MethodGet, "/api/coverage/impacted?resource_id=x&resource_type=nope", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad resource_type = %d, want 400", rec.Code)
	}
}

func TestAPI_CoverageStats(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/api/coverage/stats", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET stats = %d, want 200", rec.Code)
	}
}

// ─── Drift signals ──────────────────────────────────────────────────────────

func seedSignal(t *testing.T, db *sqlite.DB, id string, st domain.SignalType) {
	t.Helper()
	err := db.InsertSignal(domain.DriftSignal{
		ID:          id,
		Type:        st,
		TestID:      "checkout",
		Severity:    domain.SeverityMedium,
		Description: "seeded",
		DetectedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("seed signal: %v", err)
	}
}

func TestAPI_ListSignals(t *testing.T) {
	rig := newAPIRig(t)
	seedSignal(t, rig.db, "sig-1", domain.SignalFlaky)
	seedSignal(t, rig.db, "sig-2", domain.SignalNewTest)

	rec := rig.do(t, http.MethodGet, "/api/drift/signals?type=flaky", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET signals = %d, want 200", rec.Code)
	}
	var body struct {
		Signals []domain.DriftSignal `json:"signals"`
		Count   int                  `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 1 || body.Signals[0].ID != "sig-1" {
		t.Errorf("filtered signals = %+v, want only sig-1", body)
	}
}

func TestAPI_ListSignalsBadParams(t *testing.T) {
	rig := newAPIRig(t)
	if rec := rig.do(t, http.MethodGet, "/api/drift/signals?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since = %d, want 400", rec.Code)
	}
	if rec := rig.do(t, http.MethodGet, "/api/drift/signals?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rec.Code)
	}
}

func TestAPI_AckSignal(t *testing.T) {
	rig := newAPIRig(t)
	seedSignal(t, rig.db, "sig-1", domain.SignalFlaky)

	rec := rig.do(t, http.MethodPost, "/api/drift/signals/sig-1/ack", `{"acknowledged_by": "maria"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST ack = %d, want 200", rec.Code)
	}

	sigs, err := rig.db.ListSignals(sqlite.SignalFilter{})
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(sigs) != 1 || !sigs[0].Acknowledged || sigs[0].AcknowledgedBy != "maria" {
		t.Errorf("signal after ack = %+v", sigs)
	}
}

func TestAPI_AckSignalNotFound(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/drift/signals/nope/ack", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("ack missing signal = %d, want 404", rec.Code)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestAPI_LifecycleUnknownProject(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/api/lifecycle/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown project = %d, want 404", rec.Code)
	}
}

func TestAPI_LifecycleTransitions(t *testing.T) {
	rig := newAPIRig(t)
	if _, err := rig.lc.Get("shop"); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	rec := rig.do(t, http.MethodPost, "/api/lifecycle/shop/complete-migration", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete-migration = %d, want 200", rec.Code)
	}
	var st domain.LifecycleState
	decodeBody(t, rec, &st)
	if st.Mode != domain.ModeObserver || !st.ObserverEnabled {
		t.Errorf("state after migration = %+v", st)
	}

	rec = rig.do(t, http.MethodPost, "/api/lifecycle/shop/enter-optimization", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("enter-optimization = %d, want 200", rec.Code)
	}
	decodeBody(t, rec, &st)
	if st.Mode != domain.ModeOptimization {
		t.Errorf("mode = %s, want OPTIMIZATION", st.Mode)
	}
}

func TestAPI_LifecycleViolationMapsToConflict(t *testing.T) {
	rig := newAPIRig(t)
	if _, err := rig.lc.Get("shop"); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := rig.lc.CompleteMigration("shop"); err != nil {
		t.Fatalf("complete migration: %v", err)
	}

	// No remigration opt-in was recorded, so reopening is a violation.
	rec := rig.do(t, http.MethodPost, "/api/lifecycle/shop/reopen-migration", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("reopen-migration = %d, want 409", rec.Code)
	}
	// The failed transition must not touch the worker.
	if !rig.svc.Running() {
		t.Error("observer stopped by a rejected reopen-migration")
	}
}

func TestAPI_CompleteMigrationStartsObserver(t *testing.T) {
	rig := newAPIRig(t)
	rig.svc.Stop() // parked, as the daemon leaves it for a MIGRATION project

	rec := rig.do(t, http.MethodPost, "/api/lifecycle/shop/complete-migration", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete-migration = %d, want 200", rec.Code)
	}
	if !rig.svc.Running() {
		t.Error("observer not started after migration completed")
	}
}

func TestAPI_ReopenMigrationStopsObserver(t *testing.T) {
	rig := newAPIRig(t)
	if rec := rig.do(t, http.MethodPost, "/api/lifecycle/shop/allow-remigration", ""); rec.Code != http.StatusOK {
		t.Fatalf("allow-remigration = %d, want 200", rec.Code)
	}
	if rec := rig.do(t, http.MethodPost, "/api/lifecycle/shop/complete-migration", ""); rec.Code != http.StatusOK {
		t.Fatalf("complete-migration = %d, want 200", rec.Code)
	}
	if !rig.svc.Running() {
		t.Fatal("observer not running before reopen")
	}

	rec := rig.do(t, http.MethodPost, "/api/lifecycle/shop/reopen-migration", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen-migration = %d, want 200", rec.Code)
	}
	if rig.svc.Running() {
		t.Error("observer still running after migration reopened")
	}
}
