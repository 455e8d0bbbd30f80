// Package sweep purges expired runs on a cron schedule.
//
// Terminal runs (completed, failed, cancelled) are kept for the retention
// TTL so clients can still fetch results and replay event logs. Once a
// run's completion time falls past the TTL, the sweeper removes the run,
// its checkpoint, and its event log in one pass.
//
// The schedule uses standard 5-field cron syntax or descriptors like
// "@every 1h" (github.com/robfig/cron/v3). The default configuration
// sweeps daily at 03:00.
//
//	s, err := sweep.NewSweeper(store, log, registry, cfg.SweepSchedule, cfg.RetentionTTL, logger)
//	if err != nil { ... }
//	s.Start(ctx)
//	defer s.Stop(ctx)
//
// [Sweeper.Sweep] can also be called directly for an on-demand pass.
package sweep
