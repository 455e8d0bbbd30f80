package sqlite

import (
	"context"
	"fmt"
	"strings"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *pipeline.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return fmt.Errorf("interius/sqlite: create run: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interius_runs (`+runColumns+`
		) VALUES (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return interius.ErrRunAlreadyExists
		}
		return fmt.Errorf("interius/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*pipeline.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM interius_runs
		WHERE id = ?`,
		runID.String(),
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, interius.ErrRunNotFound
		}
		return nil, fmt.Errorf("interius/sqlite: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return fmt.Errorf("interius/sqlite: update run: %w", err)
	}

	// args[0] is the id; the update keys on it last.
	updateArgs := append(append([]any{}, args[1:17]...), args[0])
	res, err := s.db.ExecContext(ctx, `
		UPDATE interius_runs SET
			forked_from = ?, prompt = ?, context = ?,
			approval_policy = ?, status = ?, stage = ?,
			artifacts = ?, files = ?, dependencies = ?,
			edit_instructions = ?, timings = ?,
			review_iterations = ?, error = ?, cancel_requested = ?,
			started_at = ?, completed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		updateArgs...,
	)
	if err != nil {
		return fmt.Errorf("interius/sqlite: update run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always returns nil
	if rows == 0 {
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

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if !opts.CompletedBefore.IsZero() {
		query += " AND completed_at IS NOT NULL AND completed_at < ?"
		args = append(args, opts.CompletedBefore)
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// SQLite requires LIMIT before OFFSET; -1 means unbounded.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("interius/sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*pipeline.Run
	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("interius/sqlite: scan run row: %w", scanErr)
		}
		runs = append(runs, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("interius/sqlite: iterate run rows: %w", err)
	}
	return runs, nil
}

// PurgeRun removes the run and its checkpoint. The checkpoint row goes with
// the ON DELETE CASCADE constraint; the event log is purged separately.
func (s *Store) PurgeRun(ctx context.Context, runID id.RunID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM interius_runs WHERE id = ?`,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("interius/sqlite: purge run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always returns nil
	if rows == 0 {
		return interius.ErrRunNotFound
	}
	return nil
}
