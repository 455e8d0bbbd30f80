package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRunStarted     = "run.started"
	ActionRunResumed     = "run.resumed"
	ActionRunAwaiting    = "run.awaiting_approval"
	ActionRunCompleted   = "run.completed"
	ActionRunFailed      = "run.failed"
	ActionRunCancelled   = "run.cancelled"
	ActionStageStarted   = "stage.started"
	ActionStageCompleted = "stage.completed"
	ActionStageFailed    = "stage.failed"
	ActionReviewUpdate   = "review.update"
	ActionSweepCompleted = "sweep.completed"
)

// Audit event categories group related actions.
const (
	CategoryRun   = "interius.run"
	CategoryStage = "interius.stage"
	CategorySweep = "interius.sweep"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRun   = "pipeline_run"
	ResourceSweep = "retention_sweep"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunResumed,
		ActionRunAwaiting,
		ActionRunCompleted,
		ActionRunFailed,
		ActionRunCancelled,
		ActionStageStarted,
		ActionStageCompleted,
		ActionStageFailed,
		ActionReviewUpdate,
		ActionSweepCompleted,
	}
}
