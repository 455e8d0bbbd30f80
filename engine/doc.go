// Package engine wires all Interius subsystems together and provides the
// primary application-level API for starting, resuming, and watching
// generation runs.
//
// The engine package exists to break a fundamental import cycle: the root
// interius package defines Entity (imported by pipeline, event, stage) and
// therefore cannot import those packages back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithExecutor(stage.Requirements, reqExec),
//	    engine.WithExecutor(stage.Architecture, archExec),
//	    engine.WithExecutor(stage.Implementer, implExec),
//	    engine.WithExecutor(stage.Reviewer, revExec),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Running
//
//	if err := eng.Start(ctx); err != nil { ... }   // crash recovery + sweeper
//
//	run, err := eng.StartGeneration(ctx, pipeline.StartRequest{
//	    Prompt:         "a todo API with users and tasks",
//	    ApprovalPolicy: pipeline.ApprovalHuman,
//	})
//
//	sub := eng.Watch(run.ID)                        // live events
//	records, err := eng.Tail(ctx, run.ID, 0, 0)     // durable replay
//
//	err = eng.Resume(ctx, run.ID, pipeline.ResumeOptions{})
//
// # Options
//
//   - [WithStore] — set the persistence backend (required)
//   - [WithConfig] — override the default configuration
//   - [WithLogger] — set the structured logger
//   - [WithExecutor] — register a stage executor
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the stage execution chain
//   - [WithRepairBackoff] — set the delay strategy between repair passes
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
