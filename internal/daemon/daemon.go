package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinel-ci/sentinel/internal/api"
	"github.com/sentinel-ci/sentinel/internal/coverage"
	"github.com/sentinel-ci/sentinel/internal/drift"
	"github.com/sentinel-ci/sentinel/internal/health"
	"github.com/sentinel-ci/sentinel/internal/hooks"
	_ "github.com/sentinel-ci/sentinel/internal/infra/metrics" // Register Prometheus metrics
	"github.com/sentinel-ci/sentinel/internal/infra/sqlite"
	"github.com/sentinel-ci/sentinel/internal/lifecycle"
	"github.com/sentinel-ci/sentinel/internal/observer"
	"github.com/sentinel-ci/sentinel/internal/resilience"
)

// Daemon is the core Sentinel runtime. It wires together all services.
type Daemon struct {
	Config    Config
	DB        *sqlite.DB
	Lifecycle *lifecycle.Manager
	Coverage  *coverage.Intelligence
	Drift     *drift.Detector
	Observer  *observer.Service
	Emitter   *hooks.Emitter
	Health    *health.Checker
	Server    *api.Server
	cancel    context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := sqlite.Open(sentinelHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	lc := lifecycle.NewManager(db)
	cov := coverage.New(db)

	det := drift.NewDetector(drift.Config{
		DurationDelta:   cfg.Drift.DurationDelta,
		OscillationRate: cfg.Drift.OscillationRate,
		WindowSize:      cfg.Drift.WindowSize,
		RemovedAfter:    parseDuration(cfg.Drift.RemovedAfter, drift.DefaultRemovedAfter),
	}, db)

	breaker := resilience.NewCircuitBreaker("store", resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  parseDuration(cfg.Breaker.RecoveryTimeout, 30*time.Second),
	})

	svc := observer.New(observer.Config{
		ProjectID:     cfg.Project.ID,
		QueueCapacity: cfg.Observer.QueueCapacity,
		PollInterval:  parseDuration(cfg.Observer.PollInterval, 250*time.Millisecond),
		FlushTimeout:  parseDuration(cfg.Observer.FlushTimeout, 5*time.Second),
		SweepInterval: parseDuration(cfg.Observer.SweepInterval, time.Hour),
	}, db, cov, det, lc, breaker, nil)

	em := hooks.NewEmitter(hooks.Config{
		Framework:   cfg.Project.Framework,
		AppVersion:  cfg.Project.AppVersion,
		ProductName: cfg.Project.ProductName,
		Environment: cfg.Project.Environment,
		Disabled:    !cfg.Project.Enabled,
	}, svc)

	srv := api.NewServer(svc, cov, db, lc, em)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	checker := health.NewChecker(db, svc, lc)
	srv.SetChecker(checker)

	return &Daemon{
		Config:    cfg,
		DB:        db,
		Lifecycle: lc,
		Coverage:  cov,
		Drift:     det,
		Observer:  svc,
		Emitter:   em,
		Health:    checker,
		Server:    srv,
	}, nil
}

// Serve starts the observer worker and HTTP server, blocking until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// Touch the project so its lifecycle record exists before any events.
	st, err := d.Lifecycle.Get(d.Config.Project.ID)
	if err != nil {
		return fmt.Errorf("init lifecycle: %w", err)
	}

	// The lifecycle gates the observer: a project still migrating is not
	// observed. Completing migration through the API starts the worker.
	if st.Mode.Observing() {
		d.Observer.Start()
	} else {
		fmt.Printf("Project %s is in %s mode; observing begins after complete-migration\n",
			st.ProjectID, st.Mode)
	}
	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		// Stop the worker after the HTTP surface so late Offer calls
		// land in the queue and get drained, not lost.
		d.Observer.Stop()
		_ = d.DB.Close()
	}()

	fmt.Printf("Sentinel observing on http://%s (project %s)\n", addr, d.Config.Project.ID)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	serveErr := httpServer.ListenAndServe()

	// ListenAndServe returns the instant Shutdown is initiated. Wait for the
	// shutdown goroutine so queued events finish draining before we exit.
	// cancel unblocks it when the listener itself failed.
	cancel()
	<-shutdownDone

	if serveErr != http.ErrServerClosed {
		return serveErr
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Observer != nil {
		d.Observer.Stop()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
