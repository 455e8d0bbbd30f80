package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *pipeline.Run) error {
	rID := run.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("interius/redis: create run exists: %w", err)
	}
	if exists > 0 {
		return interius.ErrRunAlreadyExists
	}

	m, err := runToMap(run)
	if err != nil {
		return fmt.Errorf("interius/redis: create run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m)
	pipe.SAdd(ctx, runIDsKey, rID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("interius/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*pipeline.Run, error) {
	key := runKey(runID.String())
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("interius/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, interius.ErrRunNotFound
	}
	return mapToRun(vals)
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	key := runKey(run.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("interius/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return interius.ErrRunNotFound
	}

	m, err := runToMap(run)
	if err != nil {
		return fmt.Errorf("interius/redis: update run: %w", err)
	}
	m["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key, m).Result()
	if err != nil {
		return fmt.Errorf("interius/redis: update run: %w", err)
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts pipeline.ListOpts) ([]*pipeline.Run, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("interius/redis: list runs smembers: %w", err)
	}

	var runs []*pipeline.Run
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		r, convErr := mapToRun(vals)
		if convErr != nil {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if !opts.CompletedBefore.IsZero() {
			if r.CompletedAt == nil || !r.CompletedAt.Before(opts.CompletedBefore) {
				continue
			}
		}
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})

	if opts.Offset > 0 && opts.Offset < len(runs) {
		runs = runs[opts.Offset:]
	} else if opts.Offset >= len(runs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// PurgeRun removes the run and its checkpoint.
func (s *Store) PurgeRun(ctx context.Context, runID id.RunID) error {
	rID := runID.String()

	exists, err := s.client.Exists(ctx, runKey(rID)).Result()
	if err != nil {
		return fmt.Errorf("interius/redis: purge run exists: %w", err)
	}
	if exists == 0 {
		return interius.ErrRunNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, runKey(rID))
	pipe.Del(ctx, checkpointKey(rID))
	pipe.SRem(ctx, runIDsKey, rID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("interius/redis: purge run: %w", err)
	}
	return nil
}

// ── helpers ──

func runToMap(r *pipeline.Run) (map[string]any, error) {
	contextJSON, err := json.Marshal(r.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	artifactsJSON, err := json.Marshal(r.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("marshal artifacts: %w", err)
	}
	filesJSON, err := json.Marshal(r.Files)
	if err != nil {
		return nil, fmt.Errorf("marshal files: %w", err)
	}
	depsJSON, err := json.Marshal(r.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("marshal dependencies: %w", err)
	}
	editsJSON, err := json.Marshal(r.EditInstructions)
	if err != nil {
		return nil, fmt.Errorf("marshal edit instructions: %w", err)
	}
	timingsJSON, err := json.Marshal(r.Timings)
	if err != nil {
		return nil, fmt.Errorf("marshal timings: %w", err)
	}

	m := map[string]any{
		"id":                r.ID.String(),
		"forked_from":       r.ForkedFrom.String(),
		"prompt":            r.Prompt,
		"context":           string(contextJSON),
		"approval_policy":   string(r.ApprovalPolicy),
		"status":            string(r.Status),
		"stage":             string(r.Stage),
		"artifacts":         string(artifactsJSON),
		"files":             string(filesJSON),
		"dependencies":      string(depsJSON),
		"edit_instructions": string(editsJSON),
		"timings":           string(timingsJSON),
		"review_iterations": strconv.Itoa(r.ReviewIterations),
		"error":             r.Error,
		"cancel_requested":  strconv.FormatBool(r.CancelRequested),
		"started_at":        r.StartedAt.Format(time.RFC3339Nano),
		"created_at":        r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":        r.UpdatedAt.Format(time.RFC3339Nano),
	}
	if r.CompletedAt != nil {
		m["completed_at"] = r.CompletedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func mapToRun(m map[string]string) (*pipeline.Run, error) {
	rID, err := id.ParseRunID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("interius/redis: parse run id: %w", err)
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, m["started_at"])
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])
	reviewIterations, _ := strconv.Atoi(m["review_iterations"])
	cancelRequested, _ := strconv.ParseBool(m["cancel_requested"])

	r := &pipeline.Run{
		Entity: interius.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:               rID,
		Prompt:           m["prompt"],
		ApprovalPolicy:   pipeline.ApprovalPolicy(m["approval_policy"]),
		Status:           pipeline.Status(m["status"]),
		Stage:            stage.Name(m["stage"]),
		ReviewIterations: reviewIterations,
		Error:            m["error"],
		CancelRequested:  cancelRequested,
		StartedAt:        startedAt,
	}

	if v := m["forked_from"]; v != "" {
		fork, forkErr := id.ParseRunID(v)
		if forkErr == nil {
			r.ForkedFrom = fork
		}
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v)
		r.CompletedAt = &t
	}

	if err = unmarshalField(m["context"], &r.Context); err != nil {
		return nil, fmt.Errorf("interius/redis: unmarshal context: %w", err)
	}
	if err = unmarshalField(m["artifacts"], &r.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/redis: unmarshal artifacts: %w", err)
	}
	if err = unmarshalField(m["files"], &r.Files); err != nil {
		return nil, fmt.Errorf("interius/redis: unmarshal files: %w", err)
	}
	if err = unmarshalField(m["dependencies"], &r.Dependencies); err != nil {
		return nil, fmt.Errorf("interius/redis: unmarshal dependencies: %w", err)
	}
	if err = unmarshalField(m["edit_instructions"], &r.EditInstructions); err != nil {
		return nil, fmt.Errorf("interius/redis: unmarshal edit instructions: %w", err)
	}
	if err = unmarshalField(m["timings"], &r.Timings); err != nil {
		return nil, fmt.Errorf("interius/redis: unmarshal timings: %w", err)
	}

	return r, nil
}

// unmarshalField decodes a JSON hash field, treating absent as zero value.
func unmarshalField(data string, v any) error {
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}
