package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// consumeScript flips a pending checkpoint to consumed and reports whether
// this caller won. Running it server-side makes consume atomic across
// concurrent resume attempts.
var consumeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'pending' then
	redis.call('HSET', KEYS[1], 'status', 'consumed', 'consumed_at', ARGV[1])
	return 1
end
return 0
`)

// SaveCheckpoint stores the checkpoint for its run, replacing any previous
// one and resetting it to pending.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *pipeline.Checkpoint) error {
	m, err := checkpointToMap(cp)
	if err != nil {
		return fmt.Errorf("interius/redis: save checkpoint: %w", err)
	}

	key := checkpointKey(cp.RunID.String())
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, m)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("interius/redis: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a run's checkpoint without consuming it.
func (s *Store) LoadCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	vals, err := s.client.HGetAll(ctx, checkpointKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("interius/redis: load checkpoint: %w", err)
	}
	if len(vals) == 0 {
		return nil, interius.ErrCheckpointNotFound
	}
	return mapToCheckpoint(vals)
}

// ConsumeCheckpoint atomically claims a pending checkpoint. Exactly one
// caller wins; everyone else gets ErrCheckpointNotFound.
func (s *Store) ConsumeCheckpoint(ctx context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	key := checkpointKey(runID.String())
	now := time.Now().UTC().Format(time.RFC3339Nano)

	won, err := consumeScript.Run(ctx, s.client, []string{key}, now).Int()
	if err != nil {
		return nil, fmt.Errorf("interius/redis: consume checkpoint: %w", err)
	}
	if won == 0 {
		return nil, interius.ErrCheckpointNotFound
	}
	return s.LoadCheckpoint(ctx, runID)
}

func checkpointToMap(cp *pipeline.Checkpoint) (map[string]any, error) {
	artifactsJSON, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("marshal artifacts: %w", err)
	}

	m := map[string]any{
		"id":         cp.ID.String(),
		"run_id":     cp.RunID.String(),
		"stage":      string(cp.Stage),
		"prompt":     cp.Prompt,
		"artifacts":  string(artifactsJSON),
		"status":     string(cp.Status),
		"created_at": cp.CreatedAt.Format(time.RFC3339Nano),
	}
	if cp.ConsumedAt != nil {
		m["consumed_at"] = cp.ConsumedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func mapToCheckpoint(m map[string]string) (*pipeline.Checkpoint, error) {
	cpID, err := id.ParseCheckpointID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("interius/redis: parse checkpoint id: %w", err)
	}
	runID, err := id.ParseRunID(m["run_id"])
	if err != nil {
		return nil, fmt.Errorf("interius/redis: parse checkpoint run id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])
	cp := &pipeline.Checkpoint{
		ID:        cpID,
		RunID:     runID,
		Stage:     stage.Name(m["stage"]),
		Prompt:    m["prompt"],
		Status:    pipeline.CheckpointStatus(m["status"]),
		CreatedAt: createdAt,
	}

	if v := m["consumed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v)
		cp.ConsumedAt = &t
	}
	if err = unmarshalField(m["artifacts"], &cp.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/redis: unmarshal checkpoint artifacts: %w", err)
	}
	return cp, nil
}
