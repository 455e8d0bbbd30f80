// Package stage defines the pipeline stages, their artifact types, and the
// executor contract the orchestrator invokes.
//
// A stage executor is the only integration point for the underlying
// generation backend (typically a language model). Executors receive exactly
// the context they need — the prompt, attached context summaries, edit
// instructions when resuming, and the artifacts accumulated by earlier
// stages — and return a single immutable artifact.
package stage
