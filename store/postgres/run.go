package postgres

import (
	"context"
	"fmt"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *pipeline.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return fmt.Errorf("interius/postgres: create run: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO interius_runs (`+runColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19
		)`,
		args...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return interius.ErrRunAlreadyExists
		}
		return fmt.Errorf("interius/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*pipeline.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM interius_runs
		WHERE id = $1`,
		runID.String(),
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, interius.ErrRunNotFound
		}
		return nil, fmt.Errorf("interius/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return fmt.Errorf("interius/postgres: update run: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE interius_runs SET
			forked_from = $2, prompt = $3, context = $4,
			approval_policy = $5, status = $6, stage = $7,
			artifacts = $8, files = $9, dependencies = $10,
			edit_instructions = $11, timings = $12,
			review_iterations = $13, error = $14, cancel_requested = $15,
			started_at = $16, completed_at = $17,
			updated_at = NOW()
		WHERE id = $1`,
		args[:17]...,
	)
	if err != nil {
		return fmt.Errorf("interius/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interius.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM interius_runs
		WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if !opts.CompletedBefore.IsZero() {
		query += fmt.Sprintf(" AND completed_at IS NOT NULL AND completed_at < $%d", argIdx)
		args = append(args, opts.CompletedBefore)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("interius/postgres: list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// PurgeRun removes the run and its checkpoint. The checkpoint row goes with
// the ON DELETE CASCADE constraint; the event log is purged separately.
func (s *Store) PurgeRun(ctx context.Context, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM interius_runs WHERE id = $1`,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("interius/postgres: purge run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interius.ErrRunNotFound
	}
	return nil
}
