package sqlite

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
		return fmt.Errorf("interius/sqlite: append event: marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interius_events (id, run_id, seq, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.RunID.String(), int64(rec.Seq),
		string(rec.Status), string(payload), rec.Timestamp,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return interius.ErrEventAlreadyExists
		}
		return fmt.Errorf("interius/sqlite: append event: %w", err)
	}
	return nil
}

// TailEvents returns the records for a run after sinceSeq, ascending.
func (s *Store) TailEvents(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*event.Record, error) {
	query := `
		SELECT payload
		FROM interius_events
		WHERE run_id = ? AND seq > ?
		ORDER BY seq ASC`
	args := []any{runID.String(), int64(sinceSeq)}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("interius/sqlite: tail events: %w", err)
	}
	defer rows.Close()

	var records []*event.Record
	for rows.Next() {
		var payload string
		if scanErr := rows.Scan(&payload); scanErr != nil {
			return nil, fmt.Errorf("interius/sqlite: scan event row: %w", scanErr)
		}
		rec := new(event.Record)
		if umErr := json.Unmarshal([]byte(payload), rec); umErr != nil {
			return nil, fmt.Errorf("interius/sqlite: unmarshal event record: %w", umErr)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("interius/sqlite: iterate event rows: %w", err)
	}
	return records, nil
}

// LatestSeq returns the highest sequence number recorded for a run.
func (s *Store) LatestSeq(ctx context.Context, runID id.RunID) (uint64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM interius_events WHERE run_id = ?`,
		runID.String(),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("interius/sqlite: latest seq: %w", err)
	}
	return uint64(seq), nil
}

// PurgeEvents removes all records for a run.
func (s *Store) PurgeEvents(ctx context.Context, runID id.RunID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM interius_events WHERE run_id = ?`,
		runID.String(),
	)
	if err != nil {
		return fmt.Errorf("interius/sqlite: purge events: %w", err)
	}
	return nil
}
