package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
)

// SaveCheckpoint stores the checkpoint for its run, replacing any previous
// one and resetting it to pending.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *pipeline.Checkpoint) error {
	m, err := toCheckpointModel(cp)
	if err != nil {
		return fmt.Errorf("interius/mongo: save checkpoint: %w", err)
	}
	m.Status = string(pipeline.CheckpointPending)
	m.ConsumedAt = nil

	filter := bson.M{"run_id": m.RunID}
	update := bson.M{
		"$set": bson.M{
			"stage":       m.Stage,
			"prompt":      m.Prompt,
			"artifacts":   m.Artifacts,
			"status":      m.Status,
			"created_at":  m.CreatedAt,
			"consumed_at": nil,
		},
		"$setOnInsert": bson.M{
			"_id":    m.ID,
			"run_id": m.RunID,
		},
	}

	opts := options.UpdateOne().SetUpsert(true)
	_, err = s.db.Collection(colCheckpoints).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("interius/mongo: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a run's checkpoint without consuming it.
func (s *Store) LoadCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	var m checkpointModel
	err := s.db.Collection(colCheckpoints).
		FindOne(ctx, bson.M{"run_id": runID.String()}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, interius.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("interius/mongo: load checkpoint: %w", err)
	}
	return fromCheckpointModel(&m)
}

// ConsumeCheckpoint atomically claims a pending checkpoint. FindOneAndUpdate
// guarantees exactly one caller wins; everyone else gets
// ErrCheckpointNotFound.
func (s *Store) ConsumeCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	t := now()
	filter := bson.M{
		"run_id": runID.String(),
		"status": string(pipeline.CheckpointPending),
	}
	update := bson.M{
		"$set": bson.M{
			"status":      string(pipeline.CheckpointConsumed),
			"consumed_at": t,
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m checkpointModel
	err := s.db.Collection(colCheckpoints).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, interius.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("interius/mongo: consume checkpoint: %w", err)
	}
	return fromCheckpointModel(&m)
}
