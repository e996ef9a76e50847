// Package api provides the HTTP surface of the Sentinel daemon: health and
// readiness probes, Prometheus metrics, the event ingestion endpoint, and
// read APIs over coverage, drift signals, and project lifecycle.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinel-ci/sentinel/internal/coverage"
	"github.com/sentinel-ci/sentinel/internal/health"
	"github.com/sentinel-ci/sentinel/internal/hooks"
	"github.com/sentinel-ci/sentinel/internal/infra/sqlite"
	"github.com/sentinel-ci/sentinel/internal/lifecycle"
	"github.com/sentinel-ci/sentinel/internal/observer"
)

// Version reported by /api/version.
const Version = "0.1.0"

// Server is the Sentinel HTTP API server.
type Server struct {
	svc            *observer.Service
	cov            *coverage.Intelligence
	db             *sqlite.DB
	lifecycle      *lifecycle.Manager
	emitter        *hooks.Emitter
	checker        *health.Checker
	metricsEnabled bool
}

// NewServer creates a new API server over the daemon's components.
func NewServer(svc *observer.Service, cov *coverage.Intelligence, db *sqlite.DB,
	lc *lifecycle.Manager, em *hooks.Emitter) *Server {
	return &Server{svc: svc, cov: cov, db: db, lifecycle: lc, emitter: em}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetChecker wires the health checker behind /ready.
func (s *Server) SetChecker(c *health.Checker) { s.checker = c }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	// Liveness: the process is up.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	// Readiness: all health checks pass.
	r.Get("/ready", s.handleReady)

	r.Get("/api/status", s.handleStatus)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": Version,
		})
	})

	// Event ingestion for out-of-process framework hooks.
	r.Post("/api/events", s.handleIngestEvent)

	r.Route("/api/coverage", func(r chi.Router) {
		r.Get("/tests/{testID}", s.handleTestCoverage)
		r.Get("/impacted", s.handleImpactedTests)
		r.Get("/stats", s.handleCoverageStats)
	})

	r.Route("/api/drift", func(r chi.Router) {
		r.Get("/signals", s.handleListSignals)
		r.Post("/signals/{id}/ack", s.handleAckSignal)
	})

	r.Route("/api/lifecycle", func(r chi.Router) {
		r.Get("/{projectID}", s.handleGetLifecycle)
		r.Post("/{projectID}/complete-migration", s.handleCompleteMigration)
		r.Post("/{projectID}/enter-optimization", s.handleEnterOptimization)
		r.Post("/{projectID}/allow-remigration", s.handleAllowRemigration)
		r.Post("/{projectID}/reopen-migration", s.handleReopenMigration)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
