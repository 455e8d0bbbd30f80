package stage

import (
	"context"
	"fmt"
	"sync"
)

// Request is the exact input an executor invocation receives. The
// orchestrator builds one per invocation; an executor never observes a
// partially written artifact from a sibling stage.
type Request struct {
	// RunID identifies the run the invocation belongs to.
	RunID string `json:"run_id"`

	// Stage is the stage being executed.
	Stage Name `json:"stage"`

	// Prompt is the originating user prompt.
	Prompt string `json:"prompt"`

	// Context is the ordered list of attached context summaries.
	Context []string `json:"context,omitempty"`

	// EditInstructions carries directives supplied at resume time. They
	// are prepended to the implementer's input context verbatim.
	EditInstructions []string `json:"edit_instructions,omitempty"`

	// Artifacts holds everything earlier stages produced.
	Artifacts ArtifactSet `json:"artifacts"`

	// Attempt is the repair iteration number, zero for the first pass.
	Attempt int `json:"attempt,omitempty"`
}

// Artifact is the typed output of one executor invocation. Exactly one of
// the payload fields matching Stage is set.
type Artifact struct {
	Stage        Name           `json:"stage"`
	Charter      *Charter       `json:"charter,omitempty"`
	Architecture *ArchitectureDoc  `json:"architecture,omitempty"`
	Code         *GeneratedCode `json:"code,omitempty"`
	Review       *ReviewReport  `json:"review,omitempty"`
}

// Validate checks that the artifact carries the payload its stage requires.
func (a *Artifact) Validate() error {
	switch a.Stage {
	case Requirements:
		if a.Charter == nil {
			return fmt.Errorf("stage %q artifact missing charter", a.Stage)
		}
	case Architecture:
		if a.Architecture == nil {
			return fmt.Errorf("stage %q artifact missing architecture", a.Stage)
		}
	case Implementer:
		if a.Code == nil {
			return fmt.Errorf("stage %q artifact missing generated code", a.Stage)
		}
	case Reviewer:
		if a.Review == nil {
			return fmt.Errorf("stage %q artifact missing review report", a.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", a.Stage)
	}
	return nil
}

// Executor produces one stage's artifact. Implementations must honor the
// context deadline; the orchestrator enforces a wall-clock budget per
// invocation.
type Executor interface {
	Invoke(ctx context.Context, req *Request) (*Artifact, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req *Request) (*Artifact, error)

// Invoke implements Executor.
func (f ExecutorFunc) Invoke(ctx context.Context, req *Request) (*Artifact, error) {
	return f(ctx, req)
}

// Registry maps stage names to executors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[Name]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[Name]Executor),
	}
}

// Register installs the executor for a stage, replacing any prior one.
func (r *Registry) Register(n Name, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[n] = e
}

// Get returns the executor for the given stage.
// Returns false if no executor is registered.
func (r *Registry) Get(n Name) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[n]
	return e, ok
}

// Names returns all stages with a registered executor.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Name, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	return names
}
