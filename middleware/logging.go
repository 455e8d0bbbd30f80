package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/eb-adutwum/Interius/stage"
)

// Logging returns middleware that logs stage start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *stage.Request, next Handler) (*stage.Artifact, error) {
		logger.Info("stage started",
			slog.String("stage", string(req.Stage)),
			slog.String("run_id", req.RunID),
			slog.Int("attempt", req.Attempt),
		)

		start := time.Now()
		artifact, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("stage failed",
				slog.String("stage", string(req.Stage)),
				slog.String("run_id", req.RunID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("stage completed",
				slog.String("stage", string(req.Stage)),
				slog.String("run_id", req.RunID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return artifact, err
	}
}
