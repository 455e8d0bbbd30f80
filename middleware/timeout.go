package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/stage"
)

// Timeout returns middleware that enforces a wall-clock deadline on each
// stage invocation. When the deadline is exceeded the stage context is
// cancelled and the failure surfaces as ErrStageTimeout. A zero or
// negative duration disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, req *stage.Request, next Handler) (*stage.Artifact, error) {
		if d <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		artifact, err := next(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: stage %s exceeded %s", interius.ErrStageTimeout, req.Stage, d)
		}
		return artifact, err
	}
}
