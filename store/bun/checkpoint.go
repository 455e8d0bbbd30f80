package bunstore

import (
	"context"
	"fmt"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
)

// SaveCheckpoint persists a checkpoint, replacing any prior one for the
// same run. The replacement is always pending, even when the prior
// checkpoint had been consumed.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *pipeline.Checkpoint) error {
	m, err := toCheckpointModel(cp)
	if err != nil {
		return fmt.Errorf("interius/bun: save checkpoint: %w", err)
	}
	m.Status = string(pipeline.CheckpointPending)
	m.ConsumedAt = nil

	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (run_id) DO UPDATE").
		Set("id = EXCLUDED.id").
		Set("stage = EXCLUDED.stage").
		Set("prompt = EXCLUDED.prompt").
		Set("artifacts = EXCLUDED.artifacts").
		Set("status = 'pending'").
		Set("created_at = EXCLUDED.created_at").
		Set("consumed_at = NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("interius/bun: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the run's checkpoint without consuming it.
func (s *Store) LoadCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).
		Where("run_id = ?", runID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, interius.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("interius/bun: load checkpoint: %w", err)
	}
	return fromCheckpointModel(m)
}

// ConsumeCheckpoint atomically claims the run's pending checkpoint. The
// conditional UPDATE guarantees exactly one winner among concurrent
// callers: everyone else sees zero rows and gets ErrCheckpointNotFound.
func (s *Store) ConsumeCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	var models []checkpointModel
	_, err := s.db.NewRaw(`
		UPDATE interius_checkpoints
		SET status = 'consumed', consumed_at = NOW()
		WHERE run_id = ?0 AND status = 'pending'
		RETURNING *`,
		runID.String(),
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("interius/bun: consume checkpoint: %w", err)
	}
	if len(models) == 0 {
		return nil, interius.ErrCheckpointNotFound
	}
	return fromCheckpointModel(&models[0])
}
