package pipeline

import (
	"sort"
	"time"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/stage"
)

// Status represents the lifecycle state of a pipeline run.
type Status string

const (
	// StatusRunning means the pipeline is currently executing a stage.
	StatusRunning Status = "running"
	// StatusAwaitingApproval means the pipeline is paused at the
	// post-architecture boundary waiting for a human decision.
	StatusAwaitingApproval Status = "awaiting_approval"
	// StatusCompleted means the pipeline finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means a stage failed terminally.
	StatusFailed Status = "failed"
	// StatusCancelled means the caller cancelled the run.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ApprovalPolicy decides what happens at the post-architecture boundary.
type ApprovalPolicy string

const (
	// ApprovalAuto continues into implementation without pausing.
	ApprovalAuto ApprovalPolicy = "auto"
	// ApprovalHuman pauses the run at AWAITING_APPROVAL until an
	// explicit resume call.
	ApprovalHuman ApprovalPolicy = "human"
)

// StageTiming records the wall-clock window of one stage execution.
type StageTiming struct {
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Run represents a single execution of the generation pipeline.
type Run struct {
	interius.Entity

	ID         id.RunID `json:"id"`
	ForkedFrom id.RunID `json:"forked_from,omitempty"`

	Prompt         string         `json:"prompt"`
	Context        []string       `json:"context,omitempty"`
	ApprovalPolicy ApprovalPolicy `json:"approval_policy"`

	Status Status     `json:"status"`
	Stage  stage.Name `json:"stage"`

	// Artifacts accumulates the typed output of each completed stage.
	Artifacts stage.ArtifactSet `json:"artifacts"`

	// Files is the merged generated file set, keyed by path. Merging is
	// union-with-tombstone: a path disappears only when a later pass
	// explicitly deletes it.
	Files        map[string]stage.CodeFile `json:"files,omitempty"`
	Dependencies []string                  `json:"dependencies,omitempty"`

	// EditInstructions carries the directives supplied at resume time,
	// persisted so crash recovery re-executes with the same input.
	EditInstructions []string `json:"edit_instructions,omitempty"`

	Timings          map[stage.Name]*StageTiming `json:"timings,omitempty"`
	ReviewIterations int                         `json:"review_iterations,omitempty"`

	Error           string `json:"error,omitempty"`
	CancelRequested bool   `json:"cancel_requested,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool { return r.Status.Terminal() }

// FileList returns the live (non-tombstoned) generated files sorted by path.
func (r *Run) FileList() []stage.CodeFile {
	files := make([]stage.CodeFile, 0, len(r.Files))
	for _, f := range r.Files {
		if f.Deleted {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// StartTiming records the start of a stage execution.
func (r *Run) StartTiming(s stage.Name, at time.Time) {
	if r.Timings == nil {
		r.Timings = make(map[stage.Name]*StageTiming)
	}
	r.Timings[s] = &StageTiming{StartedAt: at}
}

// EndTiming records the end of a stage execution.
func (r *Run) EndTiming(s stage.Name, at time.Time) {
	if t, ok := r.Timings[s]; ok {
		end := at
		t.CompletedAt = &end
	}
}
