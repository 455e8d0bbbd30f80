package event

import (
	"fmt"
	"time"

	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/stage"
)

// Status discriminates the kind of a progress event. The set is closed:
// Validate rejects anything outside it, so an unknown kind can never slip
// through a consumer's switch unnoticed.
type Status string

// All event statuses a run may emit.
const (
	StatusStageStarted         Status = "stage_started"
	StatusStageCompleted       Status = "stage_completed"
	StatusArtifactRequirements Status = "artifact_requirements"
	StatusArtifactArchitecture Status = "artifact_architecture"
	StatusArtifactFiles        Status = "artifact_files"
	StatusReviewUpdate         Status = "review_update"
	StatusAwaitingApproval     Status = "awaiting_approval"
	StatusCompleted            Status = "completed"
	StatusError                Status = "error"
)

// Statuses lists every valid event status.
var Statuses = []Status{
	StatusStageStarted,
	StatusStageCompleted,
	StatusArtifactRequirements,
	StatusArtifactArchitecture,
	StatusArtifactFiles,
	StatusReviewUpdate,
	StatusAwaitingApproval,
	StatusCompleted,
	StatusError,
}

// File is a named preview document riding on an artifact event, such as
// the rendered requirements markdown or the architecture diagram source.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Record is one immutable event in a run's ordered event log. Seq is
// monotonically increasing within the run and assigned by the Log at
// append time. Payload fields beyond Status are populated per status;
// the constructors below build well-formed records.
type Record struct {
	ID        id.EventID `json:"id"`
	RunID     id.RunID   `json:"run_id"`
	Seq       uint64     `json:"seq"`
	Status    Status     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`

	// stage_started / stage_completed
	Stage stage.Name `json:"stage,omitempty"`

	// artifact_requirements / artifact_architecture / error
	Artifact    *stage.Artifact `json:"artifact,omitempty"`
	PreviewFile *File           `json:"preview_file,omitempty"`
	DiagramFile *File           `json:"diagram_file,omitempty"`

	// artifact_files / completed
	Files        []stage.CodeFile `json:"files,omitempty"`
	Dependencies []string         `json:"dependencies,omitempty"`

	// review_update
	Kind          string   `json:"kind,omitempty"`
	Message       string   `json:"message,omitempty"`
	AffectedFiles []string `json:"affected_files,omitempty"`

	// awaiting_approval / completed
	Summary              string              `json:"summary,omitempty"`
	RequirementsArtifact *stage.Charter      `json:"requirements_artifact,omitempty"`
	ArchitectureArtifact *stage.ArchitectureDoc `json:"architecture_artifact,omitempty"`
}

// NewStageStarted records that a named stage began.
func NewStageStarted(runID id.RunID, s stage.Name) *Record {
	return newRecord(runID, StatusStageStarted, func(r *Record) {
		r.Stage = s
	})
}

// NewStageCompleted records that a named stage finished successfully.
func NewStageCompleted(runID id.RunID, s stage.Name) *Record {
	return newRecord(runID, StatusStageCompleted, func(r *Record) {
		r.Stage = s
	})
}

// NewArtifactRequirements records the requirements artifact together with
// its rendered preview document.
func NewArtifactRequirements(runID id.RunID, charter *stage.Charter, preview *File) *Record {
	return newRecord(runID, StatusArtifactRequirements, func(r *Record) {
		r.Stage = stage.Requirements
		r.Artifact = &stage.Artifact{Stage: stage.Requirements, Charter: charter}
		r.PreviewFile = preview
	})
}

// NewArtifactArchitecture records the architecture artifact with its design
// document preview and mermaid diagram source.
func NewArtifactArchitecture(runID id.RunID, arch *stage.ArchitectureDoc, preview, diagram *File) *Record {
	return newRecord(runID, StatusArtifactArchitecture, func(r *Record) {
		r.Stage = stage.Architecture
		r.Artifact = &stage.Artifact{Stage: stage.Architecture, Architecture: arch}
		r.PreviewFile = preview
		r.DiagramFile = diagram
	})
}

// NewArtifactFiles records the generated source files and dependencies.
func NewArtifactFiles(runID id.RunID, files []stage.CodeFile, deps []string) *Record {
	return newRecord(runID, StatusArtifactFiles, func(r *Record) {
		r.Stage = stage.Implementer
		r.Files = files
		r.Dependencies = deps
	})
}

// NewReviewUpdate records an incremental reviewer note. Kind distinguishes
// passes ("pass"), revisions requested ("revision"), and unresolved issues
// at the repair ceiling ("unresolved").
func NewReviewUpdate(runID id.RunID, kind, message string, affected []string) *Record {
	return newRecord(runID, StatusReviewUpdate, func(r *Record) {
		r.Stage = stage.Reviewer
		r.Kind = kind
		r.Message = message
		r.AffectedFiles = affected
	})
}

// NewAwaitingApproval records that the pipeline paused for a human decision.
func NewAwaitingApproval(runID id.RunID, summary string, charter *stage.Charter, arch *stage.ArchitectureDoc) *Record {
	return newRecord(runID, StatusAwaitingApproval, func(r *Record) {
		r.Summary = summary
		r.RequirementsArtifact = charter
		r.ArchitectureArtifact = arch
	})
}

// NewCompleted records terminal success with the final merged file set.
func NewCompleted(runID id.RunID, summary string, files []stage.CodeFile) *Record {
	return newRecord(runID, StatusCompleted, func(r *Record) {
		r.Summary = summary
		r.Files = files
	})
}

// NewError records a terminal or stage failure. The artifact, when present,
// is the last one produced before the failure.
func NewError(runID id.RunID, message string, artifact *stage.Artifact) *Record {
	return newRecord(runID, StatusError, func(r *Record) {
		r.Message = message
		r.Artifact = artifact
	})
}

func newRecord(runID id.RunID, status Status, fill func(*Record)) *Record {
	r := &Record{
		ID:        id.NewEventID(),
		RunID:     runID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	fill(r)
	return r
}

// Validate checks the record against the closed status set and the payload
// each status requires. The switch is exhaustive over Statuses.
func (r *Record) Validate() error {
	if r.RunID.IsNil() {
		return fmt.Errorf("event: record missing run id")
	}

	switch r.Status {
	case StatusStageStarted, StatusStageCompleted:
		if !r.Stage.IsValid() {
			return fmt.Errorf("event: %s record has invalid stage %q", r.Status, r.Stage)
		}
	case StatusArtifactRequirements:
		if r.Artifact == nil || r.Artifact.Charter == nil {
			return fmt.Errorf("event: %s record missing charter artifact", r.Status)
		}
	case StatusArtifactArchitecture:
		if r.Artifact == nil || r.Artifact.Architecture == nil {
			return fmt.Errorf("event: %s record missing architecture artifact", r.Status)
		}
	case StatusArtifactFiles:
		if len(r.Files) == 0 {
			return fmt.Errorf("event: %s record missing files", r.Status)
		}
	case StatusReviewUpdate:
		if r.Kind == "" {
			return fmt.Errorf("event: %s record missing kind", r.Status)
		}
	case StatusAwaitingApproval:
		if r.RequirementsArtifact == nil || r.ArchitectureArtifact == nil {
			return fmt.Errorf("event: %s record missing approval artifacts", r.Status)
		}
	case StatusCompleted:
		// Summary may be empty; files may be empty for a run cancelled
		// before implementation. Nothing further to check.
	case StatusError:
		if r.Message == "" {
			return fmt.Errorf("event: %s record missing message", r.Status)
		}
	default:
		return fmt.Errorf("event: unknown status %q", r.Status)
	}
	return nil
}

// Terminal reports whether the record is the last one a run emits.
func (r *Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}
