package interius

import "time"

// Config holds configuration for the pipeline engine.
type Config struct {
	// MaxPromptChars is the maximum accepted prompt length. Longer
	// prompts are rejected before any stage runs.
	MaxPromptChars int

	// StageTimeout is the wall-clock budget for a single stage executor
	// invocation. Exceeding it fails the run with a stage timeout.
	StageTimeout time.Duration

	// MaxReviewIterations bounds the reviewer repair loop. When the
	// ceiling is reached with unresolved issues the run still completes,
	// flagged as completed with known issues.
	MaxReviewIterations int

	// ReviewTrustThreshold accepts a review without explicit approval
	// when its security score meets or exceeds this value (1-10 scale).
	ReviewTrustThreshold int

	// MaxConcurrentRuns limits how many runs may execute simultaneously.
	// Zero means no limit.
	MaxConcurrentRuns int

	// RunRateLimit is the maximum sustained run starts per second.
	// Zero disables rate limiting.
	RunRateLimit float64

	// RetentionTTL is how long terminal runs (and their events and
	// checkpoints) are kept before the sweeper purges them.
	RetentionTTL time.Duration

	// SweepSchedule is the cron expression driving the retention sweeper.
	SweepSchedule string

	// ShutdownTimeout is the maximum time to wait for in-flight runs to
	// reach a stage boundary during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPromptChars:       5000,
		StageTimeout:         5 * time.Minute,
		MaxReviewIterations:  3,
		ReviewTrustThreshold: 7,
		MaxConcurrentRuns:    32,
		RetentionTTL:         30 * 24 * time.Hour,
		SweepSchedule:        "0 3 * * *",
		ShutdownTimeout:      30 * time.Second,
	}
}
