package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentinel-ci/sentinel/internal/domain"
	"github.com/sentinel-ci/sentinel/internal/infra/sqlite"
)

// ─── Status & readiness ─────────────────────────────────────────────────────

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	statuses := s.checker.Statuses()
	code := http.StatusOK
	if !s.checker.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"ready":  code == http.StatusOK,
		"checks": statuses,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"observer":     s.svc.GetHealth(),
		"breaker":      s.svc.BreakerSnapshot(),
		"stage_errors": s.svc.StageErrors(),
		"version":      Version,
	})
}

// ─── Event ingestion ────────────────────────────────────────────────────────

// handleIngestEvent accepts a single event from an out-of-process hook.
// Emission is fire-and-forget: a malformed body is the only client error,
// everything else is 202 regardless of downstream outcome.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var e domain.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body: "+err.Error())
		return
	}
	s.emitter.Emit(e)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ─── Coverage ───────────────────────────────────────────────────────────────

func (s *Server) handleTestCoverage(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")
	cov, err := s.cov.GetTestCoverage(testID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func (s *Server) handleImpactedTests(w http.ResponseWriter, r *http.Request) {
	resourceID := r.URL.Query().Get("resource_id")
	resourceType := domain.NodeType(r.URL.Query().Get("resource_type"))
	if resourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id is required")
		return
	}
	if !resourceType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown resource_type "+string(resourceType))
		return
	}
	tests, err := s.cov.GetImpactedTests(resourceID, resourceType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tests == nil {
		tests = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource_id":    resourceID,
		"resource_type":  resourceType,
		"impacted_tests": tests,
	})
}

func (s *Server) handleCoverageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cov.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ─── Drift signals ──────────────────────────────────────────────────────────

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sqlite.SignalFilter{
		Type:    domain.SignalType(q.Get("type")),
		TestID:  q.Get("test_id"),
		Unacked: q.Get("unacked") == "true",
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	signals, err := s.db.ListSignals(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if signals == nil {
		signals = []domain.DriftSignal{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals": signals,
		"count":   len(signals),
	})
}

func (s *Server) handleAckSignal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		By string `json:"acknowledged_by"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body) // body is optional
	}
	if err := s.db.AcknowledgeSignal(id, body.By, time.Now()); err != nil {
		if errors.Is(err, domain.ErrSignalNotFound) {
			writeError(w, http.StatusNotFound, "signal "+id+" not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func (s *Server) handleGetLifecycle(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	st, err := s.lifecycle.Lookup(projectID)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "project "+projectID+" not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCompleteMigration(w http.ResponseWriter, r *http.Request) {
	s.lifecycleTransition(w, r, func(projectID string) error {
		if err := s.lifecycle.CompleteMigration(projectID); err != nil {
			return err
		}
		// The project is now observable; wake the worker if it is ours.
		if projectID == s.svc.ProjectID() {
			s.svc.Start()
		}
		return nil
	})
}

func (s *Server) handleEnterOptimization(w http.ResponseWriter, r *http.Request) {
	s.lifecycleTransition(w, r, s.lifecycle.EnterOptimization)
}

func (s *Server) handleAllowRemigration(w http.ResponseWriter, r *http.Request) {
	s.lifecycleTransition(w, r, s.lifecycle.AllowRemigration)
}

func (s *Server) handleReopenMigration(w http.ResponseWriter, r *http.Request) {
	s.lifecycleTransition(w, r, func(projectID string) error {
		if err := s.lifecycle.ReopenMigration(projectID); err != nil {
			return err
		}
		// Back in MIGRATION: the observer must not run. Stop drains the
		// queue before returning.
		if projectID == s.svc.ProjectID() {
			s.svc.Stop()
		}
		return nil
	})
}

// lifecycleTransition applies a state transition and maps a
// LifecycleViolation to 409 Conflict.
func (s *Server) lifecycleTransition(w http.ResponseWriter, r *http.Request,
	op func(projectID string) error) {
	projectID := chi.URLParam(r, "projectID")
	if err := op(projectID); err != nil {
		var violation *domain.LifecycleViolation
		if errors.As(err, &violation) {
			writeError(w, http.StatusConflict, violation.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st, err := s.lifecycle.Lookup(projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}
