package bunstore

import (
	"context"
	"fmt"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
)

// AppendEvent persists a record. The UNIQUE (run_id, seq) constraint
// rejects a duplicate sequence number for the same run.
func (s *Store) AppendEvent(ctx context.Context, rec *event.Record) error {
	m, err := toEventModel(rec)
	if err != nil {
		return fmt.Errorf("interius/bun: append event: %w", err)
	}
	_, err = s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return interius.ErrEventAlreadyExists
		}
		return fmt.Errorf("interius/bun: append event: %w", err)
	}
	return nil
}

// TailEvents returns the records for a run after sinceSeq, ascending.
func (s *Store) TailEvents(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*event.Record, error) {
	var models []eventModel
	q := s.db.NewSelect().Model(&models).
		Where("run_id = ?", runID.String()).
		Where("seq > ?", int64(sinceSeq)).
		Order("seq ASC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("interius/bun: tail events: %w", err)
	}

	records := make([]*event.Record, 0, len(models))
	for i := range models {
		rec, convErr := fromEventModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("interius/bun: tail events convert: %w", convErr)
		}
		records = append(records, rec)
	}
	return records, nil
}

// LatestSeq returns the highest sequence number recorded for a run.
func (s *Store) LatestSeq(ctx context.Context, runID id.RunID) (uint64, error) {
	var seq int64
	err := s.db.NewSelect().
		TableExpr("interius_events").
		ColumnExpr("COALESCE(MAX(seq), 0)").
		Where("run_id = ?", runID.String()).
		Scan(ctx, &seq)
	if err != nil {
		return 0, fmt.Errorf("interius/bun: latest seq: %w", err)
	}
	return uint64(seq), nil
}

// PurgeEvents removes all records for a run.
func (s *Store) PurgeEvents(ctx context.Context, runID id.RunID) error {
	_, err := s.db.NewDelete().
		TableExpr("interius_events").
		Where("run_id = ?", runID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("interius/bun: purge events: %w", err)
	}
	return nil
}
