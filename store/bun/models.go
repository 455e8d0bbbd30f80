package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// ── Run model ─────────────────────────────────────────────────────

type runModel struct {
	bun.BaseModel `bun:"table:interius_runs"`

	ID               string          `bun:"id,pk"`
	ForkedFrom       string          `bun:"forked_from,nullzero"`
	Prompt           string          `bun:"prompt,notnull"`
	Context          json.RawMessage `bun:"context,type:jsonb"`
	ApprovalPolicy   string          `bun:"approval_policy,notnull,default:'human'"`
	Status           string          `bun:"status,notnull,default:'running'"`
	Stage            string          `bun:"stage,notnull"`
	Artifacts        json.RawMessage `bun:"artifacts,type:jsonb"`
	Files            json.RawMessage `bun:"files,type:jsonb"`
	Dependencies     json.RawMessage `bun:"dependencies,type:jsonb"`
	EditInstructions json.RawMessage `bun:"edit_instructions,type:jsonb"`
	Timings          json.RawMessage `bun:"timings,type:jsonb"`
	ReviewIterations int             `bun:"review_iterations,notnull,default:0"`
	Error            string          `bun:"error,nullzero"`
	CancelRequested  bool            `bun:"cancel_requested,notnull,default:false"`
	StartedAt        time.Time       `bun:"started_at,notnull,default:current_timestamp"`
	CompletedAt      *time.Time      `bun:"completed_at"`
	CreatedAt        time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

func toRunModel(r *pipeline.Run) (*runModel, error) {
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

	return &runModel{
		ID:               r.ID.String(),
		ForkedFrom:       r.ForkedFrom.String(),
		Prompt:           r.Prompt,
		Context:          contextJSON,
		ApprovalPolicy:   string(r.ApprovalPolicy),
		Status:           string(r.Status),
		Stage:            string(r.Stage),
		Artifacts:        artifactsJSON,
		Files:            filesJSON,
		Dependencies:     depsJSON,
		EditInstructions: editsJSON,
		Timings:          timingsJSON,
		ReviewIterations: r.ReviewIterations,
		Error:            r.Error,
		CancelRequested:  r.CancelRequested,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func fromRunModel(m *runModel) (*pipeline.Run, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("interius/bun: parse run id %q: %w", m.ID, err)
	}

	r := &pipeline.Run{
		Entity: interius.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               parsedID,
		Prompt:           m.Prompt,
		ApprovalPolicy:   pipeline.ApprovalPolicy(m.ApprovalPolicy),
		Status:           pipeline.Status(m.Status),
		Stage:            stage.Name(m.Stage),
		ReviewIterations: m.ReviewIterations,
		Error:            m.Error,
		CancelRequested:  m.CancelRequested,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
	}

	if m.ForkedFrom != "" {
		parsedFork, forkErr := id.ParseRunID(m.ForkedFrom)
		if forkErr == nil {
			r.ForkedFrom = parsedFork
		}
	}

	if err = unmarshalJSON(m.Context, &r.Context); err != nil {
		return nil, fmt.Errorf("interius/bun: unmarshal context: %w", err)
	}
	if err = unmarshalJSON(m.Artifacts, &r.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/bun: unmarshal artifacts: %w", err)
	}
	if err = unmarshalJSON(m.Files, &r.Files); err != nil {
		return nil, fmt.Errorf("interius/bun: unmarshal files: %w", err)
	}
	if err = unmarshalJSON(m.Dependencies, &r.Dependencies); err != nil {
		return nil, fmt.Errorf("interius/bun: unmarshal dependencies: %w", err)
	}
	if err = unmarshalJSON(m.EditInstructions, &r.EditInstructions); err != nil {
		return nil, fmt.Errorf("interius/bun: unmarshal edit instructions: %w", err)
	}
	if err = unmarshalJSON(m.Timings, &r.Timings); err != nil {
		return nil, fmt.Errorf("interius/bun: unmarshal timings: %w", err)
	}

	return r, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:interius_checkpoints"`

	ID         string          `bun:"id,pk"`
	RunID      string          `bun:"run_id,notnull"`
	Stage      string          `bun:"stage,notnull"`
	Prompt     string          `bun:"prompt,notnull"`
	Artifacts  json.RawMessage `bun:"artifacts,type:jsonb"`
	Status     string          `bun:"status,notnull,default:'pending'"`
	CreatedAt  time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	ConsumedAt *time.Time      `bun:"consumed_at"`
}

func toCheckpointModel(cp *pipeline.Checkpoint) (*checkpointModel, error) {
	artifactsJSON, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("marshal artifacts: %w", err)
	}

	return &checkpointModel{
		ID:         cp.ID.String(),
		RunID:      cp.RunID.String(),
		Stage:      string(cp.Stage),
		Prompt:     cp.Prompt,
		Artifacts:  artifactsJSON,
		Status:     string(cp.Status),
		CreatedAt:  cp.CreatedAt,
		ConsumedAt: cp.ConsumedAt,
	}, nil
}

func fromCheckpointModel(m *checkpointModel) (*pipeline.Checkpoint, error) {
	parsedID, err := id.ParseCheckpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("interius/bun: parse checkpoint id %q: %w", m.ID, err)
	}

	parsedRunID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("interius/bun: parse checkpoint run id %q: %w", m.RunID, err)
	}

	cp := &pipeline.Checkpoint{
		ID:         parsedID,
		RunID:      parsedRunID,
		Stage:      stage.Name(m.Stage),
		Prompt:     m.Prompt,
		Status:     pipeline.CheckpointStatus(m.Status),
		CreatedAt:  m.CreatedAt,
		ConsumedAt: m.ConsumedAt,
	}

	if err = unmarshalJSON(m.Artifacts, &cp.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/bun: unmarshal checkpoint artifacts: %w", err)
	}

	return cp, nil
}

// ── Event model ───────────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:interius_events"`

	ID        string          `bun:"id,pk"`
	RunID     string          `bun:"run_id,notnull"`
	Seq       int64           `bun:"seq,notnull"`
	Status    string          `bun:"status,notnull"`
	Payload   json.RawMessage `bun:"payload,type:jsonb,notnull"`
	CreatedAt time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

func toEventModel(rec *event.Record) (*eventModel, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	return &eventModel{
		ID:        rec.ID.String(),
		RunID:     rec.RunID.String(),
		Seq:       int64(rec.Seq),
		Status:    string(rec.Status),
		Payload:   payload,
		CreatedAt: rec.Timestamp,
	}, nil
}

func fromEventModel(m *eventModel) (*event.Record, error) {
	rec := new(event.Record)
	if err := json.Unmarshal(m.Payload, rec); err != nil {
		return nil, fmt.Errorf("interius/bun: unmarshal event record: %w", err)
	}
	return rec, nil
}

// unmarshalJSON decodes a JSONB column, treating NULL as the zero value.
func unmarshalJSON(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
