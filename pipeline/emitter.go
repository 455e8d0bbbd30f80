package pipeline

import (
	"context"
	"time"

	"github.com/eb-adutwum/Interius/stage"
)

// Emitter receives run lifecycle notifications from the orchestrator.
// The engine bridges it to the extension registry; the orchestrator only
// sees this interface, which keeps pipeline free of the ext import cycle.
type Emitter interface {
	EmitRunStarted(ctx context.Context, run *Run)
	EmitRunResumed(ctx context.Context, run *Run)
	EmitStageStarted(ctx context.Context, run *Run, s stage.Name)
	EmitStageCompleted(ctx context.Context, run *Run, s stage.Name, elapsed time.Duration)
	EmitStageFailed(ctx context.Context, run *Run, s stage.Name, err error)
	EmitArtifactProduced(ctx context.Context, run *Run, artifact *stage.Artifact)
	EmitAwaitingApproval(ctx context.Context, run *Run)
	EmitReviewUpdate(ctx context.Context, run *Run, kind, message string)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
	EmitRunCancelled(ctx context.Context, run *Run)
}

// nopEmitter is the default when no emitter is wired.
type nopEmitter struct{}

func (nopEmitter) EmitRunStarted(context.Context, *Run)                                 {}
func (nopEmitter) EmitRunResumed(context.Context, *Run)                                 {}
func (nopEmitter) EmitStageStarted(context.Context, *Run, stage.Name)                   {}
func (nopEmitter) EmitStageCompleted(context.Context, *Run, stage.Name, time.Duration)  {}
func (nopEmitter) EmitStageFailed(context.Context, *Run, stage.Name, error)             {}
func (nopEmitter) EmitArtifactProduced(context.Context, *Run, *stage.Artifact)          {}
func (nopEmitter) EmitAwaitingApproval(context.Context, *Run)                           {}
func (nopEmitter) EmitReviewUpdate(context.Context, *Run, string, string)               {}
func (nopEmitter) EmitRunCompleted(context.Context, *Run, time.Duration)                {}
func (nopEmitter) EmitRunFailed(context.Context, *Run, error)                           {}
func (nopEmitter) EmitRunCancelled(context.Context, *Run)                               {}
