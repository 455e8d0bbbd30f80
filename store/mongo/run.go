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

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *pipeline.Run) error {
	m, err := toRunModel(run)
	if err != nil {
		return fmt.Errorf("interius/mongo: create run: %w", err)
	}

	_, err = s.db.Collection(colRuns).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return interius.ErrRunAlreadyExists
		}
		return fmt.Errorf("interius/mongo: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*pipeline.Run, error) {
	var m runModel
	err := s.db.Collection(colRuns).FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, interius.ErrRunNotFound
		}
		return nil, fmt.Errorf("interius/mongo: get run: %w", err)
	}
	return fromRunModel(&m)
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	m, err := toRunModel(run)
	if err != nil {
		return fmt.Errorf("interius/mongo: update run: %w", err)
	}
	m.UpdatedAt = now()

	res, err := s.db.Collection(colRuns).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("interius/mongo: update run: %w", err)
	}
	if res.MatchedCount == 0 {
		return interius.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.Run, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.CompletedBefore.IsZero() {
		filter["completed_at"] = bson.M{"$lt": opts.CompletedBefore}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colRuns).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("interius/mongo: list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []runModel
	if err = cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("interius/mongo: list runs decode: %w", err)
	}

	runs := make([]*pipeline.Run, 0, len(models))
	for i := range models {
		r, convErr := fromRunModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("interius/mongo: list runs convert: %w", convErr)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// PurgeRun removes the run and its checkpoint. The event log is purged
// separately via PurgeEvents.
func (s *Store) PurgeRun(ctx context.Context, runID id.RunID) error {
	res, err := s.db.Collection(colRuns).DeleteOne(ctx, bson.M{"_id": runID.String()})
	if err != nil {
		return fmt.Errorf("interius/mongo: purge run: %w", err)
	}
	if res.DeletedCount == 0 {
		return interius.ErrRunNotFound
	}

	_, err = s.db.Collection(colCheckpoints).DeleteOne(ctx, bson.M{"run_id": runID.String()})
	if err != nil {
		return fmt.Errorf("interius/mongo: purge run checkpoint: %w", err)
	}
	return nil
}
