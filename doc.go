// Package interius provides a durable agent pipeline orchestrator with
// human-in-the-loop checkpointing. It drives a multi-stage code generation
// pipeline (requirements, architecture, implementation, review) as a
// library: configure a store, register stage executors, start runs, and
// stream progress events to any number of subscribers.
//
// Interius is designed as a library, not a service. A run executes its
// stages sequentially, can pause indefinitely at the post-architecture
// approval boundary, resumes from a durable checkpoint with optional
// caller-supplied edits, and can be cancelled cooperatively at any stage
// boundary.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithExecutor(stage.Requirements, reqExec),
//	    engine.WithExecutor(stage.Architecture, archExec),
//	    engine.WithExecutor(stage.Implementer, implExec),
//	    engine.WithExecutor(stage.Reviewer, revExec),
//	)
//
//	run, err := eng.StartGeneration(ctx, pipeline.StartRequest{
//	    Prompt:         "a todo API with users and tasks",
//	    ApprovalPolicy: pipeline.ApprovalHuman,
//	})
//
// # Architecture
//
// Interius follows a composable store pattern where each subsystem
// (pipeline, event) defines its own store interface. A single backend
// implements all of them; Postgres, Bun, SQLite, Redis, Mongo, and an
// in-memory store ship in store/.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package interius
