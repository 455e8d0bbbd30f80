package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/backoff"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/ext"
	"github.com/eb-adutwum/Interius/gate"
	"github.com/eb-adutwum/Interius/id"
	mw "github.com/eb-adutwum/Interius/middleware"
	"github.com/eb-adutwum/Interius/observability"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
	"github.com/eb-adutwum/Interius/store"
	"github.com/eb-adutwum/Interius/stream"
	"github.com/eb-adutwum/Interius/sweep"
)

// The extension registry's emit methods match pipeline.Emitter exactly, so
// the registry plugs straight into the orchestrator: pipeline defines the
// interface, ext provides the implementation, and the engine layer connects
// them without either importing the other.
var _ pipeline.Emitter = (*ext.Registry)(nil)

type executorEntry struct {
	name stage.Name
	exec stage.Executor
}

// Engine is the composition root. It owns the stage registry, extension
// registry, middleware chain, event log, stream broker, admission gate,
// orchestrator, and retention sweeper.
type Engine struct {
	cfg    interius.Config
	store  store.Store
	logger *slog.Logger

	registry     *stage.Registry
	extensions   *ext.Registry
	orchestrator *pipeline.Orchestrator
	log          *event.Log
	broker       *stream.Broker
	gate         *gate.Manager
	sweeper      *sweep.Sweeper

	executors []executorEntry
	mws       []mw.Middleware
	repair    backoff.Strategy

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg interius.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithExecutor registers the executor for a stage.
func WithExecutor(n stage.Name, e stage.Executor) Option {
	return func(eng *Engine) {
		eng.executors = append(eng.executors, executorEntry{n, e})
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the engine's stage execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithRepairBackoff sets the delay strategy between reviewer repair passes.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithRepairBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.repair = b }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global
// one. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension use
// this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine from its options. A store is required; everything
// else has a working default.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:      interius.DefaultConfig(),
		logger:   slog.Default(),
		registry: stage.NewRegistry(),
	}
	eng.extensions = ext.NewRegistry(eng.logger)

	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		return nil, interius.ErrNoStore
	}
	if eng.repair == nil {
		eng.repair = backoff.DefaultStrategy()
	}
	for _, e := range eng.executors {
		eng.registry.Register(e.name, e.exec)
	}

	// The stream broker is both an extension (lifecycle events) and the
	// event log's notifier (durable records, sequence numbers intact).
	eng.broker = stream.NewBroker(eng.logger)
	eng.extensions.Register(eng.broker)

	eng.log = event.NewLog(eng.store,
		event.WithNotifier(eng.broker),
		event.WithLogger(eng.logger),
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/eb-adutwum/Interius")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/eb-adutwum/Interius")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/eb-adutwum/Interius/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.cfg.StageTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)
	chain := mw.Chain(allMws...)

	registry := eng.registry
	invoker := func(ctx context.Context, req *stage.Request) (*stage.Artifact, error) {
		return chain(ctx, req, func(ctx context.Context) (*stage.Artifact, error) {
			exec, ok := registry.Get(req.Stage)
			if !ok {
				return nil, fmt.Errorf("%w: %s", interius.ErrExecutorNotFound, req.Stage)
			}
			return exec.Invoke(ctx, req)
		})
	}

	eng.gate = gate.NewManager(gate.Config{
		MaxConcurrency: eng.cfg.MaxConcurrentRuns,
		RateLimit:      eng.cfg.RunRateLimit,
	})

	eng.orchestrator = pipeline.NewOrchestrator(
		eng.registry, eng.store, eng.log, eng.extensions, eng.logger,
		pipeline.WithConfig(eng.cfg),
		pipeline.WithInvoker(invoker),
		pipeline.WithGate(eng.gate),
		pipeline.WithRepairBackoff(eng.repair),
	)

	sweeper, err := sweep.NewSweeper(
		eng.store, eng.log, eng.extensions,
		eng.cfg.SweepSchedule, eng.cfg.RetentionTTL, eng.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("interius/engine: sweep schedule: %w", err)
	}
	eng.sweeper = sweeper

	return eng, nil
}

// Start recovers runs interrupted by a previous process and launches the
// retention sweeper. Call once after New.
func (eng *Engine) Start(ctx context.Context) error {
	// Crash recovery is best-effort: a run that cannot be recovered is
	// logged, not fatal to startup.
	if err := eng.orchestrator.RecoverAll(ctx); err != nil {
		eng.logger.Warn("failed to recover interrupted runs",
			slog.String("error", err.Error()),
		)
	}
	return eng.sweeper.Start(ctx)
}

// Close gracefully shuts the engine down: the sweeper stops, in-flight runs
// get until the shutdown timeout (or the caller's context, whichever ends
// first) to reach a stage boundary, and extensions are notified.
func (eng *Engine) Close(ctx context.Context) error {
	if err := eng.sweeper.Stop(ctx); err != nil {
		eng.logger.Error("sweeper stop error", slog.String("error", err.Error()))
	}

	waitCtx := ctx
	if eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}
	err := eng.orchestrator.Close(waitCtx)

	eng.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return err
}

// ── Run operations ──────────────────────────────────

// StartGeneration begins a new generation run. It returns the run handle
// immediately; stages execute asynchronously.
func (eng *Engine) StartGeneration(ctx context.Context, req pipeline.StartRequest) (*pipeline.Run, error) {
	return eng.orchestrator.Start(ctx, req)
}

// Resume reactivates a run paused at the approval boundary. Exactly one of
// any number of concurrent Resume calls for the same run wins.
func (eng *Engine) Resume(ctx context.Context, runID id.RunID, opts pipeline.ResumeOptions) error {
	return eng.orchestrator.Resume(ctx, runID, opts)
}

// Cancel requests cooperative cancellation of a run.
func (eng *Engine) Cancel(ctx context.Context, runID id.RunID) error {
	return eng.orchestrator.Cancel(ctx, runID)
}

// GetRun retrieves a run by ID.
func (eng *Engine) GetRun(ctx context.Context, runID id.RunID) (*pipeline.Run, error) {
	return eng.store.GetRun(ctx, runID)
}

// ListRuns returns runs matching the given options, oldest first.
func (eng *Engine) ListRuns(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.Run, error) {
	return eng.store.ListRuns(ctx, opts)
}

// Tail replays a run's durable event records after the given sequence number.
func (eng *Engine) Tail(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*event.Record, error) {
	return eng.log.Tail(ctx, runID, sinceSeq, limit)
}

// Watch subscribes to a run's live event stream. The caller must call
// Unwatch with the subscriber's ID when done.
func (eng *Engine) Watch(runID id.RunID) *stream.Subscriber {
	return eng.broker.Subscribe(id.NewSubscriberID().String(), stream.RunTopic(runID.String()))
}

// Unwatch removes a subscriber created by Watch.
func (eng *Engine) Unwatch(subscriberID string) {
	eng.broker.RemoveSubscriber(subscriberID)
}

// Sweep runs an on-demand retention sweep and returns the number of runs
// purged.
func (eng *Engine) Sweep(ctx context.Context) (int, error) {
	return eng.sweeper.Sweep(ctx)
}

// ── Stats ───────────────────────────────────────────

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	ActiveRuns int                `json:"active_runs"`
	Broker     stream.BrokerStats `json:"broker"`
}

// Stats returns a snapshot of engine activity.
func (eng *Engine) Stats() Stats {
	return Stats{
		ActiveRuns: eng.gate.ActiveCount(),
		Broker:     eng.broker.Stats(),
	}
}

// ── Accessors ───────────────────────────────────────

// Store returns the persistence backend.
func (eng *Engine) Store() store.Store { return eng.store }

// Registry returns the stage executor registry.
func (eng *Engine) Registry() *stage.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Orchestrator returns the pipeline orchestrator.
func (eng *Engine) Orchestrator() *pipeline.Orchestrator { return eng.orchestrator }

// EventLog returns the durable event log.
func (eng *Engine) EventLog() *event.Log { return eng.log }

// Broker returns the stream broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Gate returns the run admission gate.
func (eng *Engine) Gate() *gate.Manager { return eng.gate }

// Config returns the engine configuration.
func (eng *Engine) Config() interius.Config { return eng.cfg }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }
