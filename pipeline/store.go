package pipeline

import (
	"context"
	"time"

	"github.com/eb-adutwum/Interius/id"
)

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// Status filters by run status. Empty means all statuses.
	Status Status
	// CompletedBefore filters to runs that reached a terminal status
	// before the given time. Zero means no time filter.
	CompletedBefore time.Time
}

// Store defines the persistence contract for runs and checkpoints.
type Store interface {
	// CreateRun persists a new run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching the given options, oldest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// SaveCheckpoint persists a checkpoint, replacing any prior one for
	// the same run. The replacement is pending regardless of whether the
	// prior checkpoint was consumed.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LoadCheckpoint returns the run's checkpoint without consuming it,
	// whatever its status. A missing checkpoint is ErrCheckpointNotFound.
	LoadCheckpoint(ctx context.Context, runID id.RunID) (*Checkpoint, error)

	// ConsumeCheckpoint atomically claims the run's pending checkpoint.
	// Exactly one of any number of concurrent callers wins; the rest get
	// ErrCheckpointNotFound. A consumed checkpoint cannot be consumed
	// again until a new one is saved.
	ConsumeCheckpoint(ctx context.Context, runID id.RunID) (*Checkpoint, error)

	// PurgeRun removes the run and its checkpoint. Used by retention
	// sweeps; the caller purges the event log separately.
	PurgeRun(ctx context.Context, runID id.RunID) error
}
