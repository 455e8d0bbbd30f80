package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
)

const checkpointColumns = `
	id, run_id, stage, prompt, artifacts, status, created_at, consumed_at`

// SaveCheckpoint persists a checkpoint, replacing any prior one for the
// same run. The replacement is always pending, even when the prior
// checkpoint had been consumed.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *pipeline.Checkpoint) error {
	artifactsJSON, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return fmt.Errorf("interius/postgres: save checkpoint: marshal artifacts: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO interius_checkpoints (
			id, run_id, stage, prompt, artifacts, status, created_at, consumed_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', $6, NULL)
		ON CONFLICT (run_id) DO UPDATE SET
			id = EXCLUDED.id,
			stage = EXCLUDED.stage,
			prompt = EXCLUDED.prompt,
			artifacts = EXCLUDED.artifacts,
			status = 'pending',
			created_at = EXCLUDED.created_at,
			consumed_at = NULL`,
		cp.ID.String(), cp.RunID.String(), string(cp.Stage), cp.Prompt,
		artifactsJSON, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("interius/postgres: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the run's checkpoint without consuming it.
func (s *Store) LoadCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+checkpointColumns+`
		FROM interius_checkpoints
		WHERE run_id = $1`,
		runID.String(),
	)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, interius.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("interius/postgres: load checkpoint: %w", err)
	}
	return cp, nil
}

// ConsumeCheckpoint atomically claims the run's pending checkpoint. The
// conditional UPDATE guarantees exactly one winner among concurrent
// callers: everyone else sees zero rows and gets ErrCheckpointNotFound.
func (s *Store) ConsumeCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE interius_checkpoints
		SET status = 'consumed', consumed_at = NOW()
		WHERE run_id = $1 AND status = 'pending'
		RETURNING `+checkpointColumns,
		runID.String(),
	)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, interius.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("interius/postgres: consume checkpoint: %w", err)
	}
	return cp, nil
}
