package bunstore

import (
	"context"
	"fmt"
	"time"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *pipeline.Run) error {
	m, err := toRunModel(run)
	if err != nil {
		return fmt.Errorf("interius/bun: create run: %w", err)
	}
	_, err = s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return interius.ErrRunAlreadyExists
		}
		return fmt.Errorf("interius/bun: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*pipeline.Run, error) {
	m := new(runModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", runID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, interius.ErrRunNotFound
		}
		return nil, fmt.Errorf("interius/bun: get run: %w", err)
	}
	return fromRunModel(m)
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	m, err := toRunModel(run)
	if err != nil {
		return fmt.Errorf("interius/bun: update run: %w", err)
	}
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("interius/bun: update run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return interius.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.Run, error) {
	var models []runModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.CompletedBefore.IsZero() {
		q = q.Where("completed_at IS NOT NULL").
			Where("completed_at < ?", opts.CompletedBefore)
	}

	q = q.Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("interius/bun: list runs: %w", err)
	}

	runs := make([]*pipeline.Run, 0, len(models))
	for i := range models {
		r, convErr := fromRunModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("interius/bun: list runs convert: %w", convErr)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// PurgeRun removes the run and its checkpoint. The checkpoint row goes with
// the ON DELETE CASCADE constraint; the event log is purged separately.
func (s *Store) PurgeRun(ctx context.Context, runID id.RunID) error {
	res, err := s.db.NewDelete().
		TableExpr("interius_runs").
		Where("id = ?", runID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("interius/bun: purge run: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return interius.ErrRunNotFound
	}
	return nil
}
