package pipeline

import (
	"time"

	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/stage"
)

// CheckpointStatus tracks whether a checkpoint is still resumable.
type CheckpointStatus string

const (
	// CheckpointPending means the checkpoint has not been resumed yet.
	CheckpointPending CheckpointStatus = "pending"
	// CheckpointConsumed means a resume already claimed the checkpoint.
	CheckpointConsumed CheckpointStatus = "consumed"
)

// Checkpoint is a durable snapshot of a run at the moment it entered
// AWAITING_APPROVAL. Its artifacts are immutable once saved: edits supplied
// at resume time are layered on top as new artifact versions, never as
// in-place mutation of the snapshot.
type Checkpoint struct {
	ID        id.CheckpointID   `json:"id"`
	RunID     id.RunID          `json:"run_id"`
	Stage     stage.Name        `json:"stage"`
	Prompt    string            `json:"prompt"`
	Artifacts stage.ArtifactSet `json:"artifacts"`

	Status     CheckpointStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	ConsumedAt *time.Time       `json:"consumed_at,omitempty"`
}

// NewCheckpoint snapshots a run for the approval pause.
func NewCheckpoint(run *Run) *Checkpoint {
	return &Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     run.ID,
		Stage:     run.Stage,
		Prompt:    run.Prompt,
		Artifacts: run.Artifacts,
		Status:    CheckpointPending,
		CreatedAt: time.Now().UTC(),
	}
}
