// Package ext defines the extension system for Interius.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnRunCompleted(ctx context.Context, r *pipeline.Run, elapsed time.Duration) error {
//	    log.Printf("run %s completed in %s", r.ID, elapsed)
//	    return nil
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunStarted] — run was accepted and began executing
//   - [RunResumed] — a paused run was resumed past its checkpoint
//   - [AwaitingApproval] — run paused for a human decision
//   - [RunCompleted] — run finished successfully
//   - [RunFailed] — run failed terminally
//   - [RunCancelled] — run was cancelled by the caller
//
// # Stage Lifecycle Hooks
//
//   - [StageStarted] — a pipeline stage began executing
//   - [StageCompleted] — a stage finished successfully
//   - [StageFailed] — a stage failed
//   - [ArtifactProduced] — a stage installed its artifact on the run
//   - [ReviewUpdate] — the reviewer issued a verdict
//
// # Other Hooks
//
//   - [SweepCompleted] — a retention sweep pass finished
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
