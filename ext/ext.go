// Package ext defines the extension system for Interius.
// Extensions are notified of lifecycle events (run started, stage
// completed, run failed, etc.) and can react to them — logging, metrics,
// audit trails, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called after a run is accepted and begins executing.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *pipeline.Run) error
}

// RunResumed is called when a paused run is resumed past its checkpoint.
type RunResumed interface {
	OnRunResumed(ctx context.Context, r *pipeline.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *pipeline.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *pipeline.Run, err error) error
}

// RunCancelled is called when a run is cancelled by the caller.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *pipeline.Run) error
}

// AwaitingApproval is called when a run pauses for a human decision.
type AwaitingApproval interface {
	OnAwaitingApproval(ctx context.Context, r *pipeline.Run) error
}

// ──────────────────────────────────────────────────
// Stage lifecycle hooks
// ──────────────────────────────────────────────────

// StageStarted is called when a pipeline stage begins executing.
type StageStarted interface {
	OnStageStarted(ctx context.Context, r *pipeline.Run, s stage.Name) error
}

// StageCompleted is called after a pipeline stage completes.
type StageCompleted interface {
	OnStageCompleted(ctx context.Context, r *pipeline.Run, s stage.Name, elapsed time.Duration) error
}

// StageFailed is called when a pipeline stage fails.
type StageFailed interface {
	OnStageFailed(ctx context.Context, r *pipeline.Run, s stage.Name, err error) error
}

// ArtifactProduced is called after a stage installs its artifact on the run.
type ArtifactProduced interface {
	OnArtifactProduced(ctx context.Context, r *pipeline.Run, artifact *stage.Artifact) error
}

// ReviewUpdate is called for each reviewer verdict: "pass", "revision",
// or "unresolved" at the repair ceiling.
type ReviewUpdate interface {
	OnReviewUpdate(ctx context.Context, r *pipeline.Run, kind, message string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// SweepCompleted is called after a retention sweep pass, with the number
// of runs purged.
type SweepCompleted interface {
	OnSweepCompleted(ctx context.Context, purged int) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
