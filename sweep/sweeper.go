package sweep

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/pipeline"
)

// Emitter emits sweep lifecycle events.
// ext.Registry satisfies this interface via EmitSweepCompleted.
type Emitter interface {
	EmitSweepCompleted(ctx context.Context, purged int)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithTickInterval sets how often the sweeper checks whether a sweep is due.
func WithTickInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.tickInterval = d }
}

// WithBatchSize sets how many runs a single sweep pass purges at most.
func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) { s.batchSize = n }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// Exported for use by engine configuration validation.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Sweeper purges terminal runs older than the retention TTL, together with
// their checkpoints and event logs. It fires on a cron schedule.
type Sweeper struct {
	runs    pipeline.Store
	log     *event.Log
	emitter Emitter
	logger  *slog.Logger

	schedule cronlib.Schedule
	ttl      time.Duration

	tickInterval time.Duration
	batchSize    int

	mu     sync.Mutex
	nextAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. The schedule expression follows standard
// 5-field cron syntax or a descriptor like "@every 1h".
func NewSweeper(
	runs pipeline.Store,
	log *event.Log,
	emitter Emitter,
	schedule string,
	ttl time.Duration,
	logger *slog.Logger,
	opts ...SweeperOption,
) (*Sweeper, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		runs:         runs,
		log:          log,
		emitter:      emitter,
		logger:       logger,
		schedule:     sched,
		ttl:          ttl,
		tickInterval: 1 * time.Minute,
		batchSize:    500,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextAt = s.schedule.Next(time.Now().UTC())
	return s, nil
}

// Start launches the sweep tick goroutine.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("retention sweeper started",
		slog.Duration("ttl", s.ttl),
		slog.Time("next_sweep", s.nextAt),
	)
	return nil
}

// Stop signals the sweeper to stop and waits for the tick goroutine.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
	return nil
}

// tickLoop fires on each tick interval and sweeps when the schedule is due.
func (s *Sweeper) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sweeper) tick() {
	now := time.Now().UTC()

	s.mu.Lock()
	due := !s.nextAt.After(now)
	if due {
		s.nextAt = s.schedule.Next(now)
	}
	s.mu.Unlock()

	if !due {
		return
	}

	if _, err := s.Sweep(context.Background()); err != nil {
		s.logger.Error("retention sweep error", slog.String("error", err.Error()))
	}
}

// Sweep purges all terminal runs that completed before now minus the
// retention TTL. It returns the number of runs purged and can be called
// directly for an on-demand sweep. The three terminal status classes are
// disjoint, so they are swept concurrently.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)

	var purged atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, status := range []pipeline.Status{
		pipeline.StatusCompleted,
		pipeline.StatusFailed,
		pipeline.StatusCancelled,
	} {
		g.Go(func() error {
			n, err := s.sweepStatus(gctx, status, cutoff)
			purged.Add(int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return int(purged.Load()), err
	}

	total := int(purged.Load())
	if s.emitter != nil {
		s.emitter.EmitSweepCompleted(ctx, total)
	}
	s.logger.Info("retention sweep completed",
		slog.Int("purged", total),
		slog.Time("cutoff", cutoff),
	)
	return total, nil
}

func (s *Sweeper) sweepStatus(ctx context.Context, status pipeline.Status, cutoff time.Time) (int, error) {
	purged := 0
	for {
		runs, err := s.runs.ListRuns(ctx, pipeline.ListOpts{
			Status:          status,
			CompletedBefore: cutoff,
			Limit:           s.batchSize,
		})
		if err != nil {
			return purged, err
		}
		if len(runs) == 0 {
			return purged, nil
		}

		progressed := false
		for _, run := range runs {
			if err := s.runs.PurgeRun(ctx, run.ID); err != nil {
				s.logger.Error("purge run error",
					slog.String("run_id", run.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := s.log.Store().PurgeEvents(ctx, run.ID); err != nil {
				s.logger.Error("purge events error",
					slog.String("run_id", run.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			s.log.Forget(run.ID)
			purged++
			progressed = true
		}

		// A full batch of purge failures would list the same runs again.
		if len(runs) < s.batchSize || !progressed {
			return purged, nil
		}
	}
}
