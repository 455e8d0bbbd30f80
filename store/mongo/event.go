package mongo

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
)

// AppendEvent stores a record. The unique (run_id, seq) index rejects a
// second append at the same position.
func (s *Store) AppendEvent(ctx context.Context, rec *event.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("interius/mongo: marshal event: %w", err)
	}

	m := &eventModel{
		ID:        rec.ID.String(),
		RunID:     rec.RunID.String(),
		Seq:       int64(rec.Seq),
		Status:    string(rec.Status),
		Payload:   payload,
		CreatedAt: rec.Timestamp,
	}

	_, err = s.db.Collection(colEvents).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return interius.ErrEventAlreadyExists
		}
		return fmt.Errorf("interius/mongo: append event: %w", err)
	}
	return nil
}

// TailEvents returns records with seq greater than sinceSeq in ascending
// order, capped at limit when limit is positive.
func (s *Store) TailEvents(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*event.Record, error) {
	filter := bson.M{
		"run_id": runID.String(),
		"seq":    bson.M{"$gt": int64(sinceSeq)},
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(colEvents).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("interius/mongo: tail events: %w", err)
	}
	defer cursor.Close(ctx)

	var models []eventModel
	if err = cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("interius/mongo: tail events decode: %w", err)
	}

	records := make([]*event.Record, 0, len(models))
	for i := range models {
		var rec event.Record
		if err = json.Unmarshal(models[i].Payload, &rec); err != nil {
			return nil, fmt.Errorf("interius/mongo: unmarshal event %d: %w", models[i].Seq, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// LatestSeq returns the highest sequence number appended for the run, or 0
// when the log is empty.
func (s *Store) LatestSeq(ctx context.Context, runID id.RunID) (uint64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetProjection(bson.M{"seq": 1})

	var m eventModel
	err := s.db.Collection(colEvents).
		FindOne(ctx, bson.M{"run_id": runID.String()}, opts).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("interius/mongo: latest seq: %w", err)
	}
	return uint64(m.Seq), nil
}

// PurgeEvents removes the run's entire event log.
func (s *Store) PurgeEvents(ctx context.Context, runID id.RunID) error {
	_, err := s.db.Collection(colEvents).DeleteMany(ctx, bson.M{"run_id": runID.String()})
	if err != nil {
		return fmt.Errorf("interius/mongo: purge events: %w", err)
	}
	return nil
}
