package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// ── Run model ─────────────────────────────────────────────────────

// runModel stores the structured run fields as JSON blobs so the document
// shape matches the JSONB columns of the SQL backends.
type runModel struct {
	ID               string     `bson:"_id"`
	ForkedFrom       string     `bson:"forked_from,omitempty"`
	Prompt           string     `bson:"prompt"`
	Context          []byte     `bson:"context,omitempty"`
	ApprovalPolicy   string     `bson:"approval_policy"`
	Status           string     `bson:"status"`
	Stage            string     `bson:"stage"`
	Artifacts        []byte     `bson:"artifacts,omitempty"`
	Files            []byte     `bson:"files,omitempty"`
	Dependencies     []byte     `bson:"dependencies,omitempty"`
	EditInstructions []byte     `bson:"edit_instructions,omitempty"`
	Timings          []byte     `bson:"timings,omitempty"`
	ReviewIterations int        `bson:"review_iterations"`
	Error            string     `bson:"error,omitempty"`
	CancelRequested  bool       `bson:"cancel_requested"`
	StartedAt        time.Time  `bson:"started_at"`
	CompletedAt      *time.Time `bson:"completed_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
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

	m := &runModel{
		ID:               r.ID.String(),
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
	}
	if !r.ForkedFrom.IsNil() {
		m.ForkedFrom = r.ForkedFrom.String()
	}
	return m, nil
}

func fromRunModel(m *runModel) (*pipeline.Run, error) {
	parsedID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("interius/mongo: parse run id %q: %w", m.ID, err)
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
		forked, forkErr := id.ParseRunID(m.ForkedFrom)
		if forkErr == nil {
			r.ForkedFrom = forked
		}
	}

	if err = unmarshalJSON(m.Context, &r.Context); err != nil {
		return nil, fmt.Errorf("interius/mongo: unmarshal context: %w", err)
	}
	if err = unmarshalJSON(m.Artifacts, &r.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/mongo: unmarshal artifacts: %w", err)
	}
	if err = unmarshalJSON(m.Files, &r.Files); err != nil {
		return nil, fmt.Errorf("interius/mongo: unmarshal files: %w", err)
	}
	if err = unmarshalJSON(m.Dependencies, &r.Dependencies); err != nil {
		return nil, fmt.Errorf("interius/mongo: unmarshal dependencies: %w", err)
	}
	if err = unmarshalJSON(m.EditInstructions, &r.EditInstructions); err != nil {
		return nil, fmt.Errorf("interius/mongo: unmarshal edit instructions: %w", err)
	}
	if err = unmarshalJSON(m.Timings, &r.Timings); err != nil {
		return nil, fmt.Errorf("interius/mongo: unmarshal timings: %w", err)
	}

	return r, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	ID         string     `bson:"_id"`
	RunID      string     `bson:"run_id"`
	Stage      string     `bson:"stage"`
	Prompt     string     `bson:"prompt"`
	Artifacts  []byte     `bson:"artifacts,omitempty"`
	Status     string     `bson:"status"`
	CreatedAt  time.Time  `bson:"created_at"`
	ConsumedAt *time.Time `bson:"consumed_at,omitempty"`
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
		return nil, fmt.Errorf("interius/mongo: parse checkpoint id %q: %w", m.ID, err)
	}
	runID, err := id.ParseRunID(m.RunID)
	if err != nil {
		return nil, fmt.Errorf("interius/mongo: parse checkpoint run id %q: %w", m.RunID, err)
	}

	cp := &pipeline.Checkpoint{
		ID:         parsedID,
		RunID:      runID,
		Stage:      stage.Name(m.Stage),
		Prompt:     m.Prompt,
		Status:     pipeline.CheckpointStatus(m.Status),
		CreatedAt:  m.CreatedAt,
		ConsumedAt: m.ConsumedAt,
	}
	if err = unmarshalJSON(m.Artifacts, &cp.Artifacts); err != nil {
		return nil, fmt.Errorf("interius/mongo: unmarshal checkpoint artifacts: %w", err)
	}
	return cp, nil
}

// ── Event model ───────────────────────────────────────────────────

// eventModel stores the full record as its JSON payload; the indexed
// columns exist for filtering and the uniqueness constraint.
type eventModel struct {
	ID        string    `bson:"_id"`
	RunID     string    `bson:"run_id"`
	Seq       int64     `bson:"seq"`
	Status    string    `bson:"status"`
	Payload   []byte    `bson:"payload"`
	CreatedAt time.Time `bson:"created_at"`
}

// unmarshalJSON decodes a JSON blob, treating empty and "null" as the zero
// value of the target.
func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
