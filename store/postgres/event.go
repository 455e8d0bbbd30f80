package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
)

// AppendEvent persists a record. The UNIQUE (run_id, seq) constraint
// rejects a duplicate sequence number for the same run.
func (s *Store) AppendEvent(ctx context.Context, rec *event.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("interius/postgres: append event: marshal record: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO interius_events (id, run_id, seq, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID.String(), rec.RunID.String(), int64(rec.Seq),
		string(rec.Status), payload, rec.Timestamp,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return interius.ErrEventAlreadyExists
		}
		return fmt.Errorf("interius/postgres: append event: %w", err)
	}
	return nil
}

// TailEvents returns the records for a run after sinceSeq, ascending.
func (s *Store) TailEvents(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*event.Record, error) {
	query := `
		SELECT payload
		FROM interius_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq ASC`
	args := []any{runID.String(), int64(sinceSeq)}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("interius/postgres: tail events: %w", err)
	}
	defer rows.Close()

	var records []*event.Record
	for rows.Next() {
		var payload []byte
		if scanErr := rows.Scan(&payload); scanErr != nil {
			return nil, fmt.Errorf("interius/postgres: scan event row: %w", scanErr)
		}
		rec := new(event.Record)
		if umErr := json.Unmarshal(payload, rec); umErr != nil {
			return nil, fmt.Errorf("interius/postgres: unmarshal event record: %w", umErr)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("interius/postgres: iterate event rows: %w", err)
	}
	return records, nil
}

// LatestSeq returns the highest sequence number recorded for a run.
func (s *Store) LatestSeq(ctx context.Context, runID id.RunID) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM interius_events WHERE run_id = $1`,
		runID.String(),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("interius/postgres: latest seq: %w", err)
	}
	return uint64(seq), nil
}

// PurgeEvents removes all records for a run.
func (s *Store) PurgeEvents(ctx context.Context, runID id.RunID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM interius_events WHERE run_id = $1`,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("interius/postgres: purge events: %w", err)
	}
	return nil
}
