package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// runColumns is the canonical column list for run queries.
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
		r.ID.String(), r.ForkedFrom.String(), r.Prompt,
		string(contextJSON), string(r.ApprovalPolicy), string(r.Status), string(r.Stage),
		string(artifactsJSON), string(filesJSON), string(depsJSON),
		string(editsJSON), string(timingsJSON),
		r.ReviewIterations, r.Error, r.CancelRequested,
		r.StartedAt, r.CompletedAt, r.CreatedAt, r.UpdatedAt,
	}, nil
}

// scanRun scans a single run row in runColumns order.
func scanRun(row scanner) (*pipeline.Run, error) {
	var (
		r             pipeline.Run
		idStr         string
		forkedFrom    sql.NullString
		policyStr     string
		statusStr     string
		stageStr      string
		errStr        sql.NullString
		contextJSON   sql.NullString
		artifactsJSON sql.NullString
		filesJSON     sql.NullString
		depsJSON      sql.NullString
		editsJSON     sql.NullString
		timingsJSON   sql.NullString
		completedAt   sql.NullTime
	)
	err := row.Scan(
		&idStr, &forkedFrom, &r.Prompt,
		&contextJSON, &policyStr, &statusStr, &stageStr,
		&artifactsJSON, &filesJSON, &depsJSON, &editsJSON, &timingsJSON,
		&r.ReviewIterations, &errStr, &r.CancelRequested,
		&r.StartedAt, &completedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("interius/sqlite: parse run id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID

	if forkedFrom.Valid && forkedFrom.String != "" {
		parsedFork, forkErr := id.ParseRunID(forkedFrom.String)
		if forkErr == nil {
			r.ForkedFrom = parsedFork
		}
	}

	r.ApprovalPolicy = pipeline.ApprovalPolicy(policyStr)
	r.Status = pipeline.Status(statusStr)
	r.Stage = stage.Name(stageStr)
	r.Error = errStr.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}

	if err = unmarshalJSON(contextJSON, &r.Context); err != nil {
		return nil, fmt.Errorf("interius/sqlite: unmarshal context: %w", err)
	}
	if err = unmarshalJSON(artifactsJSON, &r.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/sqlite: unmarshal artifacts: %w", err)
	}
	if err = unmarshalJSON(filesJSON, &r.Files); err != nil {
		return nil, fmt.Errorf("interius/sqlite: unmarshal files: %w", err)
	}
	if err = unmarshalJSON(depsJSON, &r.Dependencies); err != nil {
		return nil, fmt.Errorf("interius/sqlite: unmarshal dependencies: %w", err)
	}
	if err = unmarshalJSON(editsJSON, &r.EditInstructions); err != nil {
		return nil, fmt.Errorf("interius/sqlite: unmarshal edit instructions: %w", err)
	}
	if err = unmarshalJSON(timingsJSON, &r.Timings); err != nil {
		return nil, fmt.Errorf("interius/sqlite: unmarshal timings: %w", err)
	}

	return &r, nil
}

// scanCheckpoint scans a single checkpoint row.
func scanCheckpoint(row scanner) (*pipeline.Checkpoint, error) {
	var (
		cp            pipeline.Checkpoint
		idStr         string
		runIDStr      string
		stageStr      string
		statusStr     string
		artifactsJSON sql.NullString
		consumedAt    sql.NullTime
	)
	err := row.Scan(
		&idStr, &runIDStr, &stageStr, &cp.Prompt,
		&artifactsJSON, &statusStr, &cp.CreatedAt, &consumedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCheckpointID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("interius/sqlite: parse checkpoint id %q: %w", idStr, parseErr)
	}
	cp.ID = parsedID

	parsedRunID, runErr := id.ParseRunID(runIDStr)
	if runErr != nil {
		return nil, fmt.Errorf("interius/sqlite: parse checkpoint run id %q: %w", runIDStr, runErr)
	}
	cp.RunID = parsedRunID

	cp.Stage = stage.Name(stageStr)
	cp.Status = pipeline.CheckpointStatus(statusStr)
	if consumedAt.Valid {
		t := consumedAt.Time
		cp.ConsumedAt = &t
	}

	if err = unmarshalJSON(artifactsJSON, &cp.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/sqlite: unmarshal checkpoint artifacts: %w", err)
	}

	return &cp, nil
}

// unmarshalJSON decodes a JSON TEXT column, treating NULL as the zero value.
func unmarshalJSON(data sql.NullString, v any) error {
	if !data.Valid || data.String == "" || data.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data.String), v)
}
