// Package hooks provides the in-process emitter that test frameworks call
// to report execution events. Emission is fire-and-forget: every path is
// non-blocking, absorbs its own panics, and never surfaces an error into
// the instrumented test run.
package hooks

import (
	"log"
	"strconv"
	"time"

	"github.com/sentinel-ci/sentinel/internal/domain"
	"github.com/sentinel-ci/sentinel/internal/infra/metrics"
	"github.com/sentinel-ci/sentinel/internal/resilience"
)

// Sink receives validated events. Satisfied by *observer.Service.
type Sink interface {
	Offer(e domain.Event) bool
	RecordSchemaMismatch()
}

// Config carries the process-wide context stamped onto every event.
type Config struct {
	Framework   string
	AppVersion  string
	ProductName string
	Environment string

	// Disabled turns every Emit call into a no-op. Used when the
	// observer is not running, e.g. during local unit test runs.
	Disabled bool
}

// Emitter enriches and forwards events to a sink. Construct one per
// process and hand it to the instrumentation layer; there is no global
// instance.
type Emitter struct {
	cfg  Config
	sink Sink
	perf *resilience.PerfMonitor
	now  func() time.Time
	logf func(format string, v ...any)
}

func NewEmitter(cfg Config, sink Sink) *Emitter {
	return &Emitter{
		cfg:  cfg,
		sink: sink,
		perf: resilience.NewPerfMonitor(),
		now:  time.Now,
		logf: log.Printf,
	}
}

// Emit validates, enriches, and offers a single event. Invalid events are
// dropped and counted; nothing here ever panics into the caller.
func (em *Emitter) Emit(e domain.Event) {
	if em == nil || em.cfg.Disabled || em.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			em.logf("[hooks] emit panic absorbed: %v", r)
		}
	}()
	done := em.perf.Sample()
	defer func() {
		done()
		metrics.EmitterOverhead.Observe(em.perf.Snapshot().AvgOverhead.Seconds())
	}()

	em.enrich(&e)
	if err := e.Validate(); err != nil {
		em.sink.RecordSchemaMismatch()
		return
	}
	em.sink.Offer(e)
}

// enrich fills the fields the instrumentation layer should not have to
// care about: timestamp, schema version, framework, and the deploy
// context stamped from the process-wide config.
func (em *Emitter) enrich(e *domain.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = em.now()
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = domain.SchemaVersion
	}
	if e.Framework == "" {
		e.Framework = em.cfg.Framework
	}
	if e.AppVersion == "" {
		e.AppVersion = em.cfg.AppVersion
	}
	if e.ProductName == "" {
		e.ProductName = em.cfg.ProductName
	}
	if e.Environment == "" {
		e.Environment = em.cfg.Environment
	}
}

// ─── Typed hooks ────────────────────────────────────────────────────────────

// EmitTestStart reports the beginning of a test.
func (em *Emitter) EmitTestStart(testID string) {
	em.Emit(domain.Event{
		Type:   domain.EventTestStart,
		TestID: testID,
	})
}

// EmitTestEnd reports a finished test with its outcome and duration.
func (em *Emitter) EmitTestEnd(testID, status string, durationMS float64) {
	em.Emit(domain.Event{
		Type:       domain.EventTestEnd,
		TestID:     testID,
		Status:     status,
		DurationMS: durationMS,
	})
}

// EmitAPICall reports an HTTP call observed during a test.
func (em *Emitter) EmitAPICall(testID, method, endpoint string, statusCode int) {
	em.Emit(domain.Event{
		Type:   domain.EventAPICall,
		TestID: testID,
		Metadata: map[string]string{
			domain.MetaEndpoint:   endpoint,
			domain.MetaMethod:     method,
			domain.MetaStatusCode: strconv.Itoa(statusCode),
		},
	})
}

// EmitUIInteraction reports an interaction with a UI component or page.
func (em *Emitter) EmitUIInteraction(testID, component, interaction, pageURL string) {
	meta := map[string]string{}
	if component != "" {
		meta[domain.MetaComponentName] = component
	}
	if interaction != "" {
		meta[domain.MetaInteractionType] = interaction
	}
	if pageURL != "" {
		meta[domain.MetaPageURL] = pageURL
	}
	em.Emit(domain.Event{
		Type:     domain.EventUIInteraction,
		TestID:   testID,
		Metadata: meta,
	})
}

// EmitStep reports a named step inside a test scenario.
func (em *Emitter) EmitStep(testID, stepName, stepStatus string) {
	em.Emit(domain.Event{
		Type:   domain.EventStep,
		TestID: testID,
		Metadata: map[string]string{
			domain.MetaStepName:   stepName,
			domain.MetaStepStatus: stepStatus,
		},
	})
}

// EmitError reports a failure observed outside the test_end path, e.g.
// a harness-level crash.
func (em *Emitter) EmitError(testID, message, stackTrace string) {
	em.Emit(domain.Event{
		Type:         domain.EventError,
		TestID:       testID,
		ErrorMessage: message,
		StackTrace:   stackTrace,
	})
}

// Overhead exposes the emitter's measured per-call cost.
func (em *Emitter) Overhead() resilience.PerfSnapshot {
	return em.perf.Snapshot()
}
