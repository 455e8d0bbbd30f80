package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/stage"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to stage execution errors and logged with a stack
// trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *stage.Request, next Handler) (artifact *stage.Artifact, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("stage executor panicked",
					slog.String("stage", string(req.Stage)),
					slog.String("run_id", req.RunID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				artifact = nil
				retErr = fmt.Errorf("%w: panic in stage %s: %v", interius.ErrStageExecution, req.Stage, r)
			}
		}()
		return next(ctx)
	}
}
