// Package middleware provides composable middleware for stage execution.
// Middleware wraps executor calls synchronously and can modify execution
// (recover from panics, enforce deadlines, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/eb-adutwum/Interius/stage"
)

// Handler is the terminal function that executes stage logic.
type Handler func(ctx context.Context) (*stage.Artifact, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the stage request being executed, and
// the next handler to call. Middleware MUST call next to continue the
// chain (unless short-circuiting on error).
type Middleware func(ctx context.Context, req *stage.Request, next Handler) (*stage.Artifact, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, req *stage.Request, next Handler) (*stage.Artifact, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (*stage.Artifact, error) {
				return mw(ctx, req, prev)
			}
		}
		return h(ctx)
	}
}
