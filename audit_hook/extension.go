package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eb-adutwum/Interius/ext"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.RunStarted       = (*Extension)(nil)
	_ ext.RunResumed       = (*Extension)(nil)
	_ ext.AwaitingApproval = (*Extension)(nil)
	_ ext.RunCompleted     = (*Extension)(nil)
	_ ext.RunFailed        = (*Extension)(nil)
	_ ext.RunCancelled     = (*Extension)(nil)
	_ ext.StageStarted     = (*Extension)(nil)
	_ ext.StageCompleted   = (*Extension)(nil)
	_ ext.StageFailed      = (*Extension)(nil)
	_ ext.ReviewUpdate     = (*Extension)(nil)
	_ ext.SweepCompleted   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so that the audit_hook package does not depend on
// a specific audit platform — callers inject the concrete backend at
// wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event. Callers provide
// a RecorderFunc adapter that bridges to their audit backend.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Interius lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, r *pipeline.Run) error {
	return e.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"approval_policy", string(r.ApprovalPolicy),
		"forked_from", r.ForkedFrom.String(),
	)
}

// OnRunResumed implements ext.RunResumed.
func (e *Extension) OnRunResumed(ctx context.Context, r *pipeline.Run) error {
	return e.record(ctx, ActionRunResumed, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"stage", string(r.Stage),
		"edit_instructions", len(r.EditInstructions),
	)
}

// OnAwaitingApproval implements ext.AwaitingApproval.
func (e *Extension) OnAwaitingApproval(ctx context.Context, r *pipeline.Run) error {
	return e.record(ctx, ActionRunAwaiting, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"stage", string(r.Stage),
	)
}

// OnRunCompleted implements ext.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, r *pipeline.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionRunCompleted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"elapsed_ms", elapsed.Milliseconds(),
		"review_iterations", r.ReviewIterations,
		"files", len(r.FileList()),
	)
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, r *pipeline.Run, runErr error) error {
	return e.record(ctx, ActionRunFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, r.ID.String(), CategoryRun, runErr,
		"stage", string(r.Stage),
	)
}

// OnRunCancelled implements ext.RunCancelled.
func (e *Extension) OnRunCancelled(ctx context.Context, r *pipeline.Run) error {
	return e.record(ctx, ActionRunCancelled, SeverityWarning, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"stage", string(r.Stage),
	)
}

// ── Stage lifecycle hooks ───────────────────────────

// OnStageStarted implements ext.StageStarted.
func (e *Extension) OnStageStarted(ctx context.Context, r *pipeline.Run, s stage.Name) error {
	return e.record(ctx, ActionStageStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryStage, nil,
		"stage", string(s),
	)
}

// OnStageCompleted implements ext.StageCompleted.
func (e *Extension) OnStageCompleted(ctx context.Context, r *pipeline.Run, s stage.Name, elapsed time.Duration) error {
	return e.record(ctx, ActionStageCompleted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryStage, nil,
		"stage", string(s),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStageFailed implements ext.StageFailed.
func (e *Extension) OnStageFailed(ctx context.Context, r *pipeline.Run, s stage.Name, stageErr error) error {
	return e.record(ctx, ActionStageFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, r.ID.String(), CategoryStage, stageErr,
		"stage", string(s),
	)
}

// OnReviewUpdate implements ext.ReviewUpdate.
func (e *Extension) OnReviewUpdate(ctx context.Context, r *pipeline.Run, kind, message string) error {
	severity := SeverityInfo
	if kind == "unresolved" {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionReviewUpdate, severity, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryStage, nil,
		"kind", kind,
		"message", message,
		"iteration", r.ReviewIterations,
	)
}

// ── Sweep lifecycle hooks ───────────────────────────

// OnSweepCompleted implements ext.SweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, purged int) error {
	return e.record(ctx, ActionSweepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceSweep, "", CategorySweep, nil,
		"purged", purged,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
