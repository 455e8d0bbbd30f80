// Package event provides the ordered, durable event channel for pipeline
// runs: a per-run append-only log with monotonic sequence numbers, replay
// from an offset, and live fan-out to an attached notifier.
package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eb-adutwum/Interius/id"
)

// Notifier receives records after they are durably appended. The stream
// broker implements it to fan records out to live subscribers. A notifier
// must not block; slow consumers are its problem, not the log's.
type Notifier interface {
	EventAppended(rec *Record)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(rec *Record)

// EventAppended implements Notifier.
func (f NotifierFunc) EventAppended(rec *Record) { f(rec) }

// Log is the event channel. It assigns sequence numbers, persists records
// through the Store, and only then notifies live subscribers — the durable
// log, not the live stream, is the source of truth.
//
// Appends for the same run are serialized so sequence order always matches
// the order the orchestrator's state machine transitions occur in.
type Log struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger

	mu   sync.Mutex
	seqs map[string]uint64 // runID → last assigned seq
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithNotifier attaches a live fan-out target.
func WithNotifier(n Notifier) LogOption {
	return func(l *Log) { l.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LogOption {
	return func(l *Log) { l.logger = logger }
}

// NewLog creates an event log over the given store.
func NewLog(store Store, opts ...LogOption) *Log {
	l := &Log{
		store:  store,
		logger: slog.Default(),
		seqs:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append validates the record, assigns the next sequence number for its
// run, persists it, and notifies the live stream. On persistence failure
// the sequence number is not consumed.
func (l *Log) Append(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.ID.IsNil() {
		rec.ID = id.NewEventID()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := rec.RunID.String()
	seq, ok := l.seqs[key]
	if !ok {
		latest, err := l.store.LatestSeq(ctx, rec.RunID)
		if err != nil {
			return err
		}
		seq = latest
	}
	rec.Seq = seq + 1

	if err := l.store.AppendEvent(ctx, rec); err != nil {
		return err
	}
	l.seqs[key] = rec.Seq

	if l.notifier != nil {
		l.notifier.EventAppended(rec)
	}
	return nil
}

// Tail replays the records for a run with Seq greater than sinceSeq.
func (l *Log) Tail(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*Record, error) {
	return l.store.TailEvents(ctx, runID, sinceSeq, limit)
}

// LatestSeq returns the highest sequence number recorded for a run.
func (l *Log) LatestSeq(ctx context.Context, runID id.RunID) (uint64, error) {
	return l.store.LatestSeq(ctx, runID)
}

// Forget drops the in-memory sequence counter for a run. Called after a
// run's events are purged.
func (l *Log) Forget(runID id.RunID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seqs, runID.String())
}

// Store returns the underlying event store.
func (l *Log) Store() Store { return l.store }
