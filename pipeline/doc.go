// Package pipeline implements the generation pipeline orchestrator: the
// state machine that sequences the requirements, architecture, implementer,
// and reviewer stages, streams progress onto the event log, persists
// checkpoints at the human approval boundary, and reacts to cancellation.
//
// A run executes its stages sequentially. Many runs execute concurrently;
// they share no mutable state beyond the store and the event log, both
// keyed by run ID.
package pipeline
