package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/eb-adutwum/Interius/ext"
	"github.com/eb-adutwum/Interius/pipeline"
)

// meterName is the instrumentation scope name for interius metrics.
const meterName = "github.com/eb-adutwum/Interius"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.RunStarted       = (*MetricsExtension)(nil)
	_ ext.RunResumed       = (*MetricsExtension)(nil)
	_ ext.AwaitingApproval = (*MetricsExtension)(nil)
	_ ext.RunCompleted     = (*MetricsExtension)(nil)
	_ ext.RunFailed        = (*MetricsExtension)(nil)
	_ ext.RunCancelled     = (*MetricsExtension)(nil)
	_ ext.ReviewUpdate     = (*MetricsExtension)(nil)
	_ ext.SweepCompleted   = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OpenTelemetry.
// Register it as an extension to automatically track run starts, resumes,
// approval pauses, terminal outcomes, reviewer verdicts, and sweep purges.
//
// Per-stage execution metrics live in the middleware package; this extension
// covers the run-level view.
type MetricsExtension struct {
	runsStarted   metric.Int64Counter
	runsResumed   metric.Int64Counter
	runsAwaiting  metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsFailed    metric.Int64Counter
	runsCancelled metric.Int64Counter
	runDuration   metric.Float64Histogram
	reviewUpdates metric.Int64Counter
	sweptRuns     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If no provider is configured, noop instruments are used.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. This variant allows injecting a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// On error, the OTel API returns noop instruments so the extension
	// degrades gracefully.
	m.runsStarted, _ = meter.Int64Counter("interius.runs.started",
		metric.WithDescription("Total runs started"),
		metric.WithUnit("{run}"))
	m.runsResumed, _ = meter.Int64Counter("interius.runs.resumed",
		metric.WithDescription("Total runs resumed past a checkpoint"),
		metric.WithUnit("{run}"))
	m.runsAwaiting, _ = meter.Int64Counter("interius.runs.awaiting_approval",
		metric.WithDescription("Total runs paused for approval"),
		metric.WithUnit("{run}"))
	m.runsCompleted, _ = meter.Int64Counter("interius.runs.completed",
		metric.WithDescription("Total runs completed"),
		metric.WithUnit("{run}"))
	m.runsFailed, _ = meter.Int64Counter("interius.runs.failed",
		metric.WithDescription("Total runs failed"),
		metric.WithUnit("{run}"))
	m.runsCancelled, _ = meter.Int64Counter("interius.runs.cancelled",
		metric.WithDescription("Total runs cancelled"),
		metric.WithUnit("{run}"))
	m.runDuration, _ = meter.Float64Histogram("interius.run.duration",
		metric.WithDescription("End-to-end run duration in seconds"),
		metric.WithUnit("s"))
	m.reviewUpdates, _ = meter.Int64Counter("interius.review.updates",
		metric.WithDescription("Total reviewer verdicts, by kind"),
		metric.WithUnit("{update}"))
	m.sweptRuns, _ = meter.Int64Counter("interius.sweep.purged",
		metric.WithDescription("Total runs purged by retention sweeps"),
		metric.WithUnit("{run}"))

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, _ *pipeline.Run) error {
	m.runsStarted.Add(ctx, 1)
	return nil
}

// OnRunResumed implements ext.RunResumed.
func (m *MetricsExtension) OnRunResumed(ctx context.Context, _ *pipeline.Run) error {
	m.runsResumed.Add(ctx, 1)
	return nil
}

// OnAwaitingApproval implements ext.AwaitingApproval.
func (m *MetricsExtension) OnAwaitingApproval(ctx context.Context, _ *pipeline.Run) error {
	m.runsAwaiting.Add(ctx, 1)
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, _ *pipeline.Run, elapsed time.Duration) error {
	m.runsCompleted.Add(ctx, 1)
	m.runDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("outcome", "completed")))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *pipeline.Run, _ error) error {
	m.runsFailed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", string(r.Stage))))
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(ctx context.Context, _ *pipeline.Run) error {
	m.runsCancelled.Add(ctx, 1)
	return nil
}

// ── Stage lifecycle hooks ───────────────────────────

// OnReviewUpdate implements ext.ReviewUpdate.
func (m *MetricsExtension) OnReviewUpdate(ctx context.Context, _ *pipeline.Run, kind, _ string) error {
	m.reviewUpdates.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)))
	return nil
}

// ── Sweep lifecycle hooks ───────────────────────────

// OnSweepCompleted implements ext.SweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(ctx context.Context, purged int) error {
	m.sweptRuns.Add(ctx, int64(purged))
	return nil
}
