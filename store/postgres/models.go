package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// runColumns is the canonical column list for run queries. Every SELECT and
// RETURNING clause uses it so scanRun stays in sync with the schema.
const runColumns = `
	id, forked_from, prompt, context, approval_policy, status, stage,
	artifacts, files, dependencies, edit_instructions, timings,
	review_iterations, error, cancel_requested,
	started_at, completed_at, created_at, updated_at`

// runArgs flattens a run into the positional arguments matching runColumns.
func runArgs(r *pipeline.Run) ([]any, error) {
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

	return []any{
		r.ID.String(), nullIfEmpty(r.ForkedFrom.String()), r.Prompt,
		contextJSON, string(r.ApprovalPolicy), string(r.Status), string(r.Stage),
		artifactsJSON, filesJSON, depsJSON, editsJSON, timingsJSON,
		r.ReviewIterations, nullIfEmpty(r.Error), r.CancelRequested,
		r.StartedAt, r.CompletedAt, r.CreatedAt, r.UpdatedAt,
	}, nil
}

// scanRun scans a single run row in runColumns order.
func scanRun(row pgx.Row) (*pipeline.Run, error) {
	var (
		r              pipeline.Run
		idStr          string
		forkedFrom     *string
		policyStr      string
		statusStr      string
		stageStr       string
		errStr         *string
		contextJSON    []byte
		artifactsJSON  []byte
		filesJSON      []byte
		depsJSON       []byte
		editsJSON      []byte
		timingsJSON    []byte
		completedAt    *time.Time
		startedAt      time.Time
		createdAt      time.Time
		updatedAt      time.Time
	)
	err := row.Scan(
		&idStr, &forkedFrom, &r.Prompt,
		&contextJSON, &policyStr, &statusStr, &stageStr,
		&artifactsJSON, &filesJSON, &depsJSON, &editsJSON, &timingsJSON,
		&r.ReviewIterations, &errStr, &r.CancelRequested,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("interius/postgres: parse run id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID

	if forkedFrom != nil {
		parsedFork, forkErr := id.ParseRunID(*forkedFrom)
		if forkErr == nil {
			r.ForkedFrom = parsedFork
		}
	}

	r.ApprovalPolicy = pipeline.ApprovalPolicy(policyStr)
	r.Status = pipeline.Status(statusStr)
	r.Stage = stage.Name(stageStr)
	r.Error = orEmpty(errStr)
	r.StartedAt = startedAt
	r.CompletedAt = completedAt
	r.Entity = interius.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt}

	if err = unmarshalJSON(contextJSON, &r.Context); err != nil {
		return nil, fmt.Errorf("interius/postgres: unmarshal context: %w", err)
	}
	if err = unmarshalJSON(artifactsJSON, &r.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/postgres: unmarshal artifacts: %w", err)
	}
	if err = unmarshalJSON(filesJSON, &r.Files); err != nil {
		return nil, fmt.Errorf("interius/postgres: unmarshal files: %w", err)
	}
	if err = unmarshalJSON(depsJSON, &r.Dependencies); err != nil {
		return nil, fmt.Errorf("interius/postgres: unmarshal dependencies: %w", err)
	}
	if err = unmarshalJSON(editsJSON, &r.EditInstructions); err != nil {
		return nil, fmt.Errorf("interius/postgres: unmarshal edit instructions: %w", err)
	}
	if err = unmarshalJSON(timingsJSON, &r.Timings); err != nil {
		return nil, fmt.Errorf("interius/postgres: unmarshal timings: %w", err)
	}

	return &r, nil
}

// collectRuns collects all runs from query rows.
func collectRuns(rows pgx.Rows) ([]*pipeline.Run, error) {
	var runs []*pipeline.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("interius/postgres: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interius/postgres: iterate run rows: %w", err)
	}
	return runs, nil
}

// scanCheckpoint scans a single checkpoint row.
func scanCheckpoint(row pgx.Row) (*pipeline.Checkpoint, error) {
	var (
		cp            pipeline.Checkpoint
		idStr         string
		runIDStr      string
		stageStr      string
		statusStr     string
		artifactsJSON []byte
	)
	err := row.Scan(
		&idStr, &runIDStr, &stageStr, &cp.Prompt,
		&artifactsJSON, &statusStr, &cp.CreatedAt, &cp.ConsumedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCheckpointID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("interius/postgres: parse checkpoint id %q: %w", idStr, parseErr)
	}
	cp.ID = parsedID

	parsedRunID, runErr := id.ParseRunID(runIDStr)
	if runErr != nil {
		return nil, fmt.Errorf("interius/postgres: parse checkpoint run id %q: %w", runIDStr, runErr)
	}
	cp.RunID = parsedRunID

	cp.Stage = stage.Name(stageStr)
	cp.Status = pipeline.CheckpointStatus(statusStr)

	if err = unmarshalJSON(artifactsJSON, &cp.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/postgres: unmarshal checkpoint artifacts: %w", err)
	}

	return &cp, nil
}

// unmarshalJSON decodes a JSONB column, treating NULL as the zero value.
func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
