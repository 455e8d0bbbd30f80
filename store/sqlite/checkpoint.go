package sqlite

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
		return fmt.Errorf("interius/sqlite: save checkpoint: marshal artifacts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interius_checkpoints (
			id, run_id, stage, prompt, artifacts, status, created_at, consumed_at
		) VALUES (?, ?, ?, ?, ?, 'pending', ?, NULL)
		ON CONFLICT (run_id) DO UPDATE SET
			id = excluded.id,
			stage = excluded.stage,
			prompt = excluded.prompt,
			artifacts = excluded.artifacts,
			status = 'pending',
			created_at = excluded.created_at,
			consumed_at = NULL`,
		cp.ID.String(), cp.RunID.String(), string(cp.Stage), cp.Prompt,
		string(artifactsJSON), cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("interius/sqlite: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the run's checkpoint without consuming it.
func (s *Store) LoadCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+`
		FROM interius_checkpoints
		WHERE run_id = ?`,
		runID.String(),
	)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, interius.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("interius/sqlite: load checkpoint: %w", err)
	}
	return cp, nil
}

// ConsumeCheckpoint atomically claims the run's pending checkpoint.
// SQLite serializes writers, so the conditional UPDATE admits exactly one
// winner; everyone else sees zero rows and gets ErrCheckpointNotFound.
func (s *Store) ConsumeCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE interius_checkpoints
		SET status = 'consumed', consumed_at = CURRENT_TIMESTAMP
		WHERE run_id = ? AND status = 'pending'`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("interius/sqlite: consume checkpoint: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always returns nil
	if rows == 0 {
		return nil, interius.ErrCheckpointNotFound
	}

	return s.LoadCheckpoint(ctx, runID)
}
