package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/backoff"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/middleware"
	"github.com/eb-adutwum/Interius/stage"
)

// Invoker executes one stage invocation. The engine installs a
// middleware-chained invoker; without one the orchestrator builds a default
// chain of Recover and Timeout around the registry lookup.
type Invoker func(ctx context.Context, req *stage.Request) (*stage.Artifact, error)

// Gate admits run executions. Acquire returns false when the run must be
// rejected; every successful Acquire is paired with exactly one Release.
type Gate interface {
	Acquire() bool
	Release()
}

// StartRequest carries everything needed to begin a run.
type StartRequest struct {
	// Prompt is the natural-language description of the service to build.
	Prompt string `json:"prompt"`

	// Context is an ordered list of attached context summaries.
	Context []string `json:"context,omitempty"`

	// ApprovalPolicy selects auto-continue or human-in-the-loop at the
	// post-architecture boundary. Empty defaults to auto.
	ApprovalPolicy ApprovalPolicy `json:"approval_policy,omitempty"`

	// PriorRunID, when set, names an earlier run for the same project.
	// A completed prior run forks a fresh run identity instead of
	// mutating the prior run's history.
	PriorRunID id.RunID `json:"prior_run_id,omitempty"`
}

// ResumeOptions carries the caller's input to a resume call.
type ResumeOptions struct {
	// EditInstructions are prepended to the implementer's input context
	// verbatim.
	EditInstructions []string `json:"edit_instructions,omitempty"`

	// ApprovedRequirements, when set, overrides the checkpointed charter
	// as a new artifact version.
	ApprovedRequirements *stage.Charter `json:"approved_requirements,omitempty"`

	// ApprovedArchitecture, when set, overrides the checkpointed
	// architecture as a new artifact version.
	ApprovedArchitecture *stage.ArchitectureDoc `json:"approved_architecture,omitempty"`
}

// runControl carries the cooperative cancellation flag for a live run.
type runControl struct {
	cancel atomic.Bool
}

// Orchestrator is the pipeline state machine. It sequences stage executors,
// marshals events onto the event log, persists checkpoints at the approval
// boundary, and reacts to cancellation at stage boundaries.
type Orchestrator struct {
	registry *stage.Registry
	store    Store
	log      *event.Log
	emitter  Emitter
	logger   *slog.Logger

	cfg     interius.Config
	invoker Invoker
	gate    Gate
	repair  backoff.Strategy

	mu     sync.Mutex
	active map[string]*runControl
	wg     sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig overrides the default configuration.
func WithConfig(cfg interius.Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithInvoker installs a custom (typically middleware-chained) invoker.
func WithInvoker(inv Invoker) Option {
	return func(o *Orchestrator) { o.invoker = inv }
}

// WithGate installs run admission control.
func WithGate(g Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithRepairBackoff sets the delay strategy between reviewer repair passes.
func WithRepairBackoff(s backoff.Strategy) Option {
	return func(o *Orchestrator) { o.repair = s }
}

// NewOrchestrator creates an orchestrator. The emitter may be nil.
func NewOrchestrator(registry *stage.Registry, store Store, log *event.Log, emitter Emitter, logger *slog.Logger, opts ...Option) *Orchestrator {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		registry: registry,
		store:    store,
		log:      log,
		emitter:  emitter,
		logger:   logger,
		cfg:      interius.DefaultConfig(),
		repair:   backoff.DefaultStrategy(),
		active:   make(map[string]*runControl),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.invoker == nil {
		chain := middleware.Chain(
			middleware.Recover(o.logger),
			middleware.Timeout(o.cfg.StageTimeout),
		)
		o.invoker = func(ctx context.Context, req *stage.Request) (*stage.Artifact, error) {
			return chain(ctx, req, func(ctx context.Context) (*stage.Artifact, error) {
				return o.invokeRegistered(ctx, req)
			})
		}
	}
	return o
}

// invokeRegistered is the innermost handler: registry lookup plus the
// executor call.
func (o *Orchestrator) invokeRegistered(ctx context.Context, req *stage.Request) (*stage.Artifact, error) {
	exec, ok := o.registry.Get(req.Stage)
	if !ok {
		return nil, fmt.Errorf("%w: %s", interius.ErrExecutorNotFound, req.Stage)
	}
	return exec.Invoke(ctx, req)
}

// Start validates the request, allocates a run, and begins executing it
// asynchronously. It returns the run handle immediately.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Run, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is empty", interius.ErrInvalidInput)
	}
	if o.cfg.MaxPromptChars > 0 && len([]rune(req.Prompt)) > o.cfg.MaxPromptChars {
		return nil, fmt.Errorf("%w: %d chars, limit %d",
			interius.ErrPromptTooLong, len([]rune(req.Prompt)), o.cfg.MaxPromptChars)
	}

	policy := req.ApprovalPolicy
	if policy == "" {
		policy = ApprovalAuto
	}
	if policy != ApprovalAuto && policy != ApprovalHuman {
		return nil, fmt.Errorf("%w: unknown approval policy %q", interius.ErrInvalidInput, policy)
	}

	var forkedFrom id.RunID
	if !req.PriorRunID.IsNil() {
		prior, err := o.store.GetRun(ctx, req.PriorRunID)
		if err != nil && !errors.Is(err, interius.ErrRunNotFound) {
			return nil, err
		}
		if ShouldFork(prior, prior != nil && prior.Status == StatusCompleted) {
			forkedFrom = prior.ID
		}
	}

	if !o.acquire() {
		return nil, interius.ErrTooManyRuns
	}

	run := &Run{
		Entity:         interius.NewEntity(),
		ID:             id.NewRunID(),
		ForkedFrom:     forkedFrom,
		Prompt:         req.Prompt,
		Context:        append([]string(nil), req.Context...),
		ApprovalPolicy: policy,
		Status:         StatusRunning,
		Stage:          stage.Requirements,
		StartedAt:      time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.release()
		return nil, err
	}
	o.emitter.EmitRunStarted(ctx, run)

	ctl := o.track(run.ID)
	o.wg.Add(1)
	go o.execute(context.WithoutCancel(ctx), run, ctl)
	return run, nil
}

// Resume reactivates a paused run from its checkpoint. Exactly one of any
// number of concurrent Resume calls for the same run wins; the rest fail
// with ErrCheckpointNotFound.
func (o *Orchestrator) Resume(ctx context.Context, runID id.RunID, opts ResumeOptions) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return interius.ErrCheckpointNotFound
	}
	if run.CancelRequested {
		// The cancel arrived first; it wins over the resume.
		if _, cpErr := o.store.ConsumeCheckpoint(ctx, runID); cpErr != nil &&
			!errors.Is(cpErr, interius.ErrCheckpointNotFound) {
			return cpErr
		}
		o.cancelRun(ctx, run)
		return interius.ErrCheckpointNotFound
	}

	if !o.acquire() {
		return interius.ErrTooManyRuns
	}
	cp, err := o.store.ConsumeCheckpoint(ctx, runID)
	if err != nil {
		o.release()
		return err
	}

	run.Artifacts = cp.Artifacts
	if opts.ApprovedRequirements != nil {
		run.Artifacts.Requirements = opts.ApprovedRequirements
	}
	if opts.ApprovedArchitecture != nil {
		run.Artifacts.Architecture = opts.ApprovedArchitecture
	}
	run.EditInstructions = append([]string(nil), opts.EditInstructions...)
	run.Status = StatusRunning
	run.Stage = stage.Implementer
	run.Touch()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.release()
		return err
	}
	o.emitter.EmitRunResumed(ctx, run)

	ctl := o.track(run.ID)
	o.wg.Add(1)
	go o.execute(context.WithoutCancel(ctx), run, ctl)
	return nil
}

// Cancel requests cooperative cancellation. It is idempotent: terminal runs
// are a no-op. A live run observes the flag at its next stage boundary —
// including the approval pause after architecture, where the cancel wins
// over the pause. A paused run is cancelled immediately and its checkpoint
// consumed.
func (o *Orchestrator) Cancel(ctx context.Context, runID id.RunID) error {
	o.mu.Lock()
	ctl, live := o.active[runID.String()]
	o.mu.Unlock()
	if live {
		ctl.cancel.Store(true)
		run, err := o.store.GetRun(ctx, runID)
		if err != nil {
			if errors.Is(err, interius.ErrRunNotFound) {
				return nil
			}
			return err
		}
		switch {
		case run.Terminal():
			return nil
		case run.Status == StatusAwaitingApproval:
			// The goroutine is pausing and may never read the flag again.
			// The atomic consume picks a single winner between this call,
			// the goroutine's own post-pause check, and any resume.
			if _, cpErr := o.store.ConsumeCheckpoint(ctx, runID); cpErr != nil {
				if errors.Is(cpErr, interius.ErrCheckpointNotFound) {
					return nil
				}
				return cpErr
			}
			o.cancelRun(ctx, run)
			return nil
		default:
			// Mid-stage: persist the flag too, so it survives this
			// process. Resume and recovery honor the persisted flag.
			run.CancelRequested = true
			run.Touch()
			if err := o.store.UpdateRun(ctx, run); err != nil {
				o.logger.Error("cancel: persist flag", slog.String("run_id", runID.String()), slog.Any("error", err))
			}
			return nil
		}
	}

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return nil
	}

	if run.Status == StatusAwaitingApproval {
		if _, err := o.store.ConsumeCheckpoint(ctx, runID); err != nil &&
			!errors.Is(err, interius.ErrCheckpointNotFound) {
			return err
		}
		o.cancelRun(ctx, run)
		return nil
	}

	// Running in another (possibly crashed) process: persist the flag so
	// recovery observes it.
	run.CancelRequested = true
	run.Touch()
	return o.store.UpdateRun(ctx, run)
}

// RecoverAll re-executes runs left in the running state by a previous
// process, continuing each from the first stage lacking an artifact. Runs
// paused for approval stay suspended. Call once at startup.
func (o *Orchestrator) RecoverAll(ctx context.Context) error {
	runs, err := o.store.ListRuns(ctx, ListOpts{Status: StatusRunning})
	if err != nil {
		return err
	}

	for _, run := range runs {
		if run.CancelRequested {
			o.cancelRun(ctx, run)
			continue
		}

		next := firstMissingStage(run)
		if next.After(stage.Architecture) && run.ApprovalPolicy == ApprovalHuman {
			cp, cpErr := o.store.LoadCheckpoint(ctx, run.ID)
			switch {
			case cpErr == nil && cp.Status == CheckpointPending:
				// Crashed between checkpoint save and the status flip.
				run.Status = StatusAwaitingApproval
				run.Touch()
				if updateErr := o.store.UpdateRun(ctx, run); updateErr != nil {
					o.logger.Error("recover: update run", slog.String("run_id", run.ID.String()), slog.Any("error", updateErr))
				}
				continue
			case errors.Is(cpErr, interius.ErrCheckpointNotFound):
				// Crashed after the architecture artifact but before the
				// checkpoint existed: pause now.
				run.Stage = stage.Architecture
				o.pause(ctx, run)
				continue
			case cpErr != nil:
				o.logger.Error("recover: load checkpoint", slog.String("run_id", run.ID.String()), slog.Any("error", cpErr))
				continue
			}
			// Consumed checkpoint: the run was resumed, keep going.
		}

		run.Stage = next
		run.Touch()
		if err := o.store.UpdateRun(ctx, run); err != nil {
			o.logger.Error("recover: update run", slog.String("run_id", run.ID.String()), slog.Any("error", err))
			continue
		}

		o.logger.Info("recovering run",
			slog.String("run_id", run.ID.String()),
			slog.String("stage", string(next)))
		ctl := o.track(run.ID)
		o.wg.Add(1)
		go o.execute(context.WithoutCancel(ctx), run, ctl)
	}
	return nil
}

// Tail replays the run's persisted events after the given sequence number.
func (o *Orchestrator) Tail(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*event.Record, error) {
	return o.log.Tail(ctx, runID, sinceSeq, limit)
}

// Close waits for in-flight runs to reach a suspension point or finish.
func (o *Orchestrator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ──────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────

func (o *Orchestrator) execute(ctx context.Context, run *Run, ctl *runControl) {
	defer o.finish(run.ID, ctl)

	from := run.Stage
	if !from.IsValid() {
		from = stage.Requirements
	}

	for idx := from.Index(); idx < len(stage.Order); idx++ {
		st := stage.Order[idx]

		if o.checkCancelled(ctx, run, ctl) {
			return
		}

		if st == stage.Reviewer {
			o.reviewLoop(ctx, run, ctl)
			return
		}

		if _, err := o.runStage(ctx, run, st, 0); err != nil {
			o.failRun(ctx, run, st, err)
			return
		}

		if st == stage.Architecture && run.ApprovalPolicy == ApprovalHuman {
			// The architecture stage can run for minutes; a cancel issued
			// while it was in flight must win over the pause.
			if o.checkCancelled(ctx, run, ctl) {
				return
			}
			o.pause(ctx, run)
			// A cancel that raced the pause set the flag after the check
			// above. The fresh checkpoint's atomic consume picks a single
			// winner against a concurrent Cancel or Resume.
			if ctl != nil && ctl.cancel.Load() && !run.Terminal() {
				if _, err := o.store.ConsumeCheckpoint(ctx, run.ID); err == nil {
					o.cancelRun(ctx, run)
				} else if !errors.Is(err, interius.ErrCheckpointNotFound) {
					o.logger.Error("cancel: consume checkpoint", slog.String("run_id", run.ID.String()), slog.Any("error", err))
				}
			}
			return
		}
	}
}

// runStage executes one stage invocation end to end: events, timing, the
// executor call, artifact validation, and persistence.
func (o *Orchestrator) runStage(ctx context.Context, run *Run, st stage.Name, attempt int) (*stage.Artifact, error) {
	run.Stage = st
	run.StartTiming(st, time.Now().UTC())
	run.Touch()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	if err := o.log.Append(ctx, event.NewStageStarted(run.ID, st)); err != nil {
		return nil, err
	}
	o.emitter.EmitStageStarted(ctx, run, st)

	started := time.Now()
	artifact, err := o.invoker(ctx, o.buildRequest(run, st, attempt))
	elapsed := time.Since(started)
	run.EndTiming(st, time.Now().UTC())

	if err == nil && artifact == nil {
		err = fmt.Errorf("%w: stage %s returned no artifact", interius.ErrStageExecution, st)
	}
	if err == nil && artifact.Stage != st {
		err = fmt.Errorf("%w: stage %s returned artifact for %s", interius.ErrStageExecution, st, artifact.Stage)
	}
	if err == nil {
		err = artifact.Validate()
	}
	if err != nil {
		o.emitter.EmitStageFailed(ctx, run, st, err)
		return nil, err
	}

	run.Artifacts.Install(artifact)
	if err := o.recordArtifact(ctx, run, artifact); err != nil {
		return nil, err
	}

	if err := o.log.Append(ctx, event.NewStageCompleted(run.ID, st)); err != nil {
		return nil, err
	}
	o.emitter.EmitStageCompleted(ctx, run, st, elapsed)
	o.emitter.EmitArtifactProduced(ctx, run, artifact)

	run.Touch()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	return artifact, nil
}

// buildRequest assembles exactly the input the stage needs. Stages never
// observe a partially written sibling artifact: the set is copied by value.
func (o *Orchestrator) buildRequest(run *Run, st stage.Name, attempt int) *stage.Request {
	req := &stage.Request{
		RunID:     run.ID.String(),
		Stage:     st,
		Prompt:    run.Prompt,
		Context:   append([]string(nil), run.Context...),
		Artifacts: run.Artifacts,
		Attempt:   attempt,
	}
	if st == stage.Implementer {
		req.EditInstructions = append([]string(nil), run.EditInstructions...)
	}
	return req
}

// recordArtifact emits the artifact event for a stage and folds generated
// files into the run's merged file set.
func (o *Orchestrator) recordArtifact(ctx context.Context, run *Run, artifact *stage.Artifact) error {
	switch artifact.Stage {
	case stage.Requirements:
		return o.log.Append(ctx, event.NewArtifactRequirements(
			run.ID, artifact.Charter, requirementsPreview(artifact.Charter)))

	case stage.Architecture:
		preview, diagram := architecturePreviews(artifact.Architecture)
		return o.log.Append(ctx, event.NewArtifactArchitecture(
			run.ID, artifact.Architecture, preview, diagram))

	case stage.Implementer:
		run.Files = MergeFiles(run.Files, artifact.Code.Files)
		run.Dependencies = mergeDependencies(run.Dependencies, artifact.Code.Dependencies)
		return o.log.Append(ctx, event.NewArtifactFiles(run.ID, run.FileList(), run.Dependencies))

	case stage.Reviewer:
		// Review outcomes surface as review_update events from the loop.
		return nil
	}
	return nil
}

// reviewLoop drives the bounded reviewer/repair cycle. The run always
// reaches COMPLETED from here unless an executor fails or the caller
// cancels: hitting the iteration ceiling completes with known issues.
func (o *Orchestrator) reviewLoop(ctx context.Context, run *Run, ctl *runControl) {
	maxIter := o.cfg.MaxReviewIterations
	if maxIter < 1 {
		maxIter = 1
	}

	for iter := 0; ; iter++ {
		if o.checkCancelled(ctx, run, ctl) {
			return
		}

		artifact, err := o.runStage(ctx, run, stage.Reviewer, iter)
		if err != nil {
			o.failRun(ctx, run, stage.Reviewer, err)
			return
		}
		report := artifact.Review
		run.ReviewIterations = iter + 1

		if report.Approved || report.SecurityScore >= o.cfg.ReviewTrustThreshold {
			o.reviewUpdate(ctx, run, "pass", passMessage(report), report.AffectedFiles)
			o.completeRun(ctx, run, completionSummary(report))
			return
		}

		if iter+1 >= maxIter {
			o.reviewUpdate(ctx, run, "unresolved", unresolvedMessage(report), report.AffectedFiles)
			o.completeRun(ctx, run, "completed with known issues")
			return
		}

		o.reviewUpdate(ctx, run, "revision", revisionMessage(report), report.AffectedFiles)

		if !o.sleep(ctx, o.repair.Delay(iter+1)) {
			o.cancelRun(ctx, run)
			return
		}
		if o.checkCancelled(ctx, run, ctl) {
			return
		}

		if _, err := o.runStage(ctx, run, stage.Implementer, iter+1); err != nil {
			o.failRun(ctx, run, stage.Implementer, err)
			return
		}
	}
}

func (o *Orchestrator) reviewUpdate(ctx context.Context, run *Run, kind, message string, affected []string) {
	if err := o.log.Append(ctx, event.NewReviewUpdate(run.ID, kind, message, affected)); err != nil {
		o.logger.Error("append review update", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}
	o.emitter.EmitReviewUpdate(ctx, run, kind, message)
}

// pause snapshots the run into a checkpoint and suspends at
// AWAITING_APPROVAL. The checkpoint is durable before the awaiting event
// is visible, so a resume is always ordered after the save.
func (o *Orchestrator) pause(ctx context.Context, run *Run) {
	cp := NewCheckpoint(run)
	if err := o.store.SaveCheckpoint(ctx, cp); err != nil {
		o.failRun(ctx, run, run.Stage, fmt.Errorf("save checkpoint: %w", err))
		return
	}

	run.Status = StatusAwaitingApproval
	run.Touch()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.logger.Error("pause: update run", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}

	summary := "Architecture ready for review"
	if run.Artifacts.Requirements != nil && run.Artifacts.Requirements.Summary != "" {
		summary = run.Artifacts.Requirements.Summary
	}
	if err := o.log.Append(ctx, event.NewAwaitingApproval(
		run.ID, summary, run.Artifacts.Requirements, run.Artifacts.Architecture)); err != nil {
		o.logger.Error("append awaiting approval", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}
	o.emitter.EmitAwaitingApproval(ctx, run)

	o.logger.Info("run awaiting approval", slog.String("run_id", run.ID.String()))
}

func (o *Orchestrator) completeRun(ctx context.Context, run *Run, summary string) {
	now := time.Now().UTC()
	run.Status = StatusCompleted
	run.CompletedAt = &now
	run.Touch()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.logger.Error("complete: update run", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}

	if err := o.log.Append(ctx, event.NewCompleted(run.ID, summary, run.FileList())); err != nil {
		o.logger.Error("append completed", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}
	o.emitter.EmitRunCompleted(ctx, run, now.Sub(run.StartedAt))

	o.logger.Info("run completed",
		slog.String("run_id", run.ID.String()),
		slog.Duration("elapsed", now.Sub(run.StartedAt)),
		slog.Int("files", len(run.FileList())))
}

func (o *Orchestrator) failRun(ctx context.Context, run *Run, st stage.Name, err error) {
	now := time.Now().UTC()
	run.Status = StatusFailed
	run.Error = err.Error()
	run.CompletedAt = &now
	run.Touch()
	if updateErr := o.store.UpdateRun(ctx, run); updateErr != nil {
		o.logger.Error("fail: update run", slog.String("run_id", run.ID.String()), slog.Any("error", updateErr))
	}

	if appendErr := o.log.Append(ctx, event.NewError(run.ID, err.Error(), lastArtifact(run))); appendErr != nil {
		o.logger.Error("append error event", slog.String("run_id", run.ID.String()), slog.Any("error", appendErr))
	}
	o.emitter.EmitRunFailed(ctx, run, err)

	o.logger.Error("run failed",
		slog.String("run_id", run.ID.String()),
		slog.String("stage", string(st)),
		slog.Any("error", err))
}

func (o *Orchestrator) cancelRun(ctx context.Context, run *Run) {
	now := time.Now().UTC()
	run.Status = StatusCancelled
	run.CancelRequested = false
	run.CompletedAt = &now
	run.Touch()
	if err := o.store.UpdateRun(ctx, run); err != nil {
		o.logger.Error("cancel: update run", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}

	if err := o.log.Append(ctx, event.NewError(run.ID, "run cancelled", nil)); err != nil {
		o.logger.Error("append cancel event", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}
	o.emitter.EmitRunCancelled(ctx, run)

	o.logger.Info("run cancelled", slog.String("run_id", run.ID.String()))
}

// checkCancelled observes the cancel flag at a stage boundary. Partial
// files stay available; the run just stops advancing.
func (o *Orchestrator) checkCancelled(ctx context.Context, run *Run, ctl *runControl) bool {
	if (ctl != nil && ctl.cancel.Load()) || run.CancelRequested {
		o.cancelRun(ctx, run)
		return true
	}
	return false
}

// sleep waits for d, returning false if the context ends first.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) track(runID id.RunID) *runControl {
	ctl := &runControl{}
	o.mu.Lock()
	o.active[runID.String()] = ctl
	o.mu.Unlock()
	return ctl
}

// finish removes only its own control entry: a pausing goroutine's deferred
// finish must not evict the fresh control a concurrent Resume just tracked.
func (o *Orchestrator) finish(runID id.RunID, ctl *runControl) {
	o.mu.Lock()
	if o.active[runID.String()] == ctl {
		delete(o.active, runID.String())
	}
	o.mu.Unlock()
	o.release()
	o.wg.Done()
}

func (o *Orchestrator) acquire() bool {
	if o.gate == nil {
		return true
	}
	return o.gate.Acquire()
}

func (o *Orchestrator) release() {
	if o.gate != nil {
		o.gate.Release()
	}
}

// firstMissingStage returns the earliest stage the run has no artifact for.
func firstMissingStage(run *Run) stage.Name {
	for _, s := range stage.Order {
		if !run.Artifacts.Has(s) {
			return s
		}
	}
	return stage.Reviewer
}

// lastArtifact returns the newest artifact worth attaching to an error
// event, preferring the generated code.
func lastArtifact(run *Run) *stage.Artifact {
	switch {
	case run.Artifacts.Code != nil:
		return &stage.Artifact{Stage: stage.Implementer, Code: run.Artifacts.Code}
	case run.Artifacts.Architecture != nil:
		return &stage.Artifact{Stage: stage.Architecture, Architecture: run.Artifacts.Architecture}
	case run.Artifacts.Requirements != nil:
		return &stage.Artifact{Stage: stage.Requirements, Charter: run.Artifacts.Requirements}
	}
	return nil
}

func mergeDependencies(current, incoming []string) []string {
	seen := make(map[string]bool, len(current)+len(incoming))
	out := make([]string, 0, len(current)+len(incoming))
	for _, d := range current {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, d := range incoming {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func passMessage(r *stage.ReviewReport) string {
	if r.Summary != "" {
		return r.Summary
	}
	return "review passed"
}

func revisionMessage(r *stage.ReviewReport) string {
	if len(r.Issues) > 0 {
		return strings.Join(r.Issues, "; ")
	}
	if r.Summary != "" {
		return r.Summary
	}
	return "revision requested"
}

func unresolvedMessage(r *stage.ReviewReport) string {
	msg := fmt.Sprintf("repair ceiling reached with %d unresolved issue(s)", len(r.Issues))
	if len(r.Issues) > 0 {
		msg += ": " + strings.Join(r.Issues, "; ")
	}
	return msg
}

func completionSummary(r *stage.ReviewReport) string {
	if r.Summary != "" {
		return r.Summary
	}
	return "generation completed"
}
