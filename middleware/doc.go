// Package middleware provides composable middleware for stage execution.
//
// A [Middleware] is a function that wraps a stage handler. Middleware are
// composed into a chain using [Chain] and applied before each stage
// executes. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs stage name, run, duration, and outcome at each execution
//   - [Recover] — catches panics and converts them to stage execution errors
//   - [Timeout] — cancels the stage context after a configured duration
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-stage duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, req *stage.Request, next middleware.Handler) (*stage.Artifact, error) {
//	        // pre-processing
//	        artifact, err := next(ctx)
//	        // post-processing
//	        return artifact, err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., admission control, deadline enforcement).
package middleware
