package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
)

// AppendEvent stores a record under its sequence number. HSETNX rejects a
// second write to the same (run, seq) field atomically.
func (s *Store) AppendEvent(ctx context.Context, rec *event.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("interius/redis: marshal event: %w", err)
	}

	field := strconv.FormatUint(rec.Seq, 10)
	set, err := s.client.HSetNX(ctx, eventsKey(rec.RunID.String()), field, payload).Result()
	if err != nil {
		return fmt.Errorf("interius/redis: append event: %w", err)
	}
	if !set {
		return interius.ErrEventAlreadyExists
	}
	return nil
}

// TailEvents returns records with seq greater than sinceSeq in ascending
// order, capped at limit when limit is positive.
func (s *Store) TailEvents(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*event.Record, error) {
	vals, err := s.client.HGetAll(ctx, eventsKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("interius/redis: tail events: %w", err)
	}

	var records []*event.Record
	for field, payload := range vals {
		seq, parseErr := strconv.ParseUint(field, 10, 64)
		if parseErr != nil || seq <= sinceSeq {
			continue
		}
		var rec event.Record
		if err = json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("interius/redis: unmarshal event %d: %w", seq, err)
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// LatestSeq returns the highest sequence number appended for the run, or 0
// when the log is empty.
func (s *Store) LatestSeq(ctx context.Context, runID id.RunID) (uint64, error) {
	fields, err := s.client.HKeys(ctx, eventsKey(runID.String())).Result()
	if err != nil {
		return 0, fmt.Errorf("interius/redis: latest seq: %w", err)
	}

	var max uint64
	for _, field := range fields {
		seq, parseErr := strconv.ParseUint(field, 10, 64)
		if parseErr != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

// PurgeEvents removes the run's entire event log.
func (s *Store) PurgeEvents(ctx context.Context, runID id.RunID) error {
	if err := s.client.Del(ctx, eventsKey(runID.String())).Err(); err != nil {
		return fmt.Errorf("interius/redis: purge events: %w", err)
	}
	return nil
}
