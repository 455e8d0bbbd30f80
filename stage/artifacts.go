package stage

// Field describes one attribute of a charter entity.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Constraints []string `json:"constraints,omitempty"`
}

// Entity is a domain object extracted from the user's prompt.
type Entity struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Endpoint is a single API route the generated service must expose.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// Charter is the requirements stage artifact: the structured project
// definition distilled from the prompt.
type Charter struct {
	Summary       string     `json:"summary"`
	Entities      []Entity   `json:"entities"`
	Endpoints     []Endpoint `json:"endpoints"`
	BusinessRules []string   `json:"business_rules,omitempty"`
	AuthRequired  bool       `json:"auth_required"`
}

// Component names one building block of the proposed system design.
type Component struct {
	Name           string `json:"name"`
	Responsibility string `json:"responsibility"`
}

// ArchitectureDoc is the architecture stage artifact: a design document,
// a mermaid diagram, and structured summaries the later stages consume.
type ArchitectureDoc struct {
	DesignDocument   string      `json:"design_document"`
	MermaidDiagram   string      `json:"mermaid_diagram,omitempty"`
	Components       []Component `json:"components,omitempty"`
	DataModelSummary string      `json:"data_model_summary,omitempty"`
	EndpointSummary  string      `json:"endpoint_summary,omitempty"`
}

// CodeFile is one generated source file. Deleted marks a tombstone: a
// repair pass removes a previously generated path only by emitting the
// path with Deleted set — omitting a path never deletes it.
type CodeFile struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// GeneratedCode is the implementer stage artifact: the generated file set
// plus the package dependencies the service needs.
type GeneratedCode struct {
	Files        []CodeFile `json:"files"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// PatchRequest asks a repair pass to change one file.
type PatchRequest struct {
	Path        string `json:"path"`
	Instruction string `json:"instruction"`
}

// ReviewReport is the reviewer stage artifact.
type ReviewReport struct {
	Summary       string         `json:"summary,omitempty"`
	Issues        []string       `json:"issues,omitempty"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	SecurityScore int            `json:"security_score"`
	Approved      bool           `json:"approved"`
	AffectedFiles []string       `json:"affected_files,omitempty"`
	PatchRequests []PatchRequest `json:"patch_requests,omitempty"`
}

// ArtifactSet accumulates the artifacts produced by a run. Artifacts are
// immutable once produced; a resume with approved edits installs a new
// value, it never mutates the old one in place.
type ArtifactSet struct {
	Requirements *Charter       `json:"requirements,omitempty"`
	Architecture *ArchitectureDoc  `json:"architecture,omitempty"`
	Code         *GeneratedCode `json:"code,omitempty"`
	Review       *ReviewReport  `json:"review,omitempty"`
}

// Has reports whether the set contains an artifact for the given stage.
func (s ArtifactSet) Has(n Name) bool {
	switch n {
	case Requirements:
		return s.Requirements != nil
	case Architecture:
		return s.Architecture != nil
	case Implementer:
		return s.Code != nil
	case Reviewer:
		return s.Review != nil
	}
	return false
}

// Install stores the artifact in the slot for its stage.
func (s *ArtifactSet) Install(a *Artifact) {
	if a == nil {
		return
	}
	switch a.Stage {
	case Requirements:
		s.Requirements = a.Charter
	case Architecture:
		s.Architecture = a.Architecture
	case Implementer:
		s.Code = a.Code
	case Reviewer:
		s.Review = a.Review
	}
}
