package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ pipeline.Store = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	runs        map[string]*pipeline.Run
	checkpoints map[string]*pipeline.Checkpoint // key: run ID
	events      map[string][]*event.Record      // key: run ID, ascending Seq
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:        make(map[string]*pipeline.Run),
		checkpoints: make(map[string]*pipeline.Checkpoint),
		events:      make(map[string][]*event.Record),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Pipeline Store
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, run *pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return interius.ErrRunAlreadyExists
	}
	m.runs[key] = copyRun(run)
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*pipeline.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, interius.ErrRunNotFound
	}
	return copyRun(r), nil
}

// UpdateRun persists changes to an existing run.
func (m *Store) UpdateRun(_ context.Context, run *pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, ok := m.runs[key]; !ok {
		return interius.ErrRunNotFound
	}
	cp := copyRun(run)
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = cp
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (m *Store) ListRuns(_ context.Context, opts pipeline.ListOpts) ([]*pipeline.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*pipeline.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if !opts.CompletedBefore.IsZero() {
			if r.CompletedAt == nil || !r.CompletedAt.Before(opts.CompletedBefore) {
				continue
			}
		}
		result = append(result, copyRun(r))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// SaveCheckpoint persists a checkpoint, replacing any prior one for the run.
func (m *Store) SaveCheckpoint(_ context.Context, cp *pipeline.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *cp
	c.Status = pipeline.CheckpointPending
	c.ConsumedAt = nil
	m.checkpoints[cp.RunID.String()] = &c
	return nil
}

// LoadCheckpoint returns the run's checkpoint without consuming it.
func (m *Store) LoadCheckpoint(_ context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[runID.String()]
	if !ok {
		return nil, interius.ErrCheckpointNotFound
	}
	c := *cp
	return &c, nil
}

// ConsumeCheckpoint atomically claims the run's pending checkpoint. The
// store mutex makes the check-and-set atomic: exactly one concurrent
// caller observes the pending status.
func (m *Store) ConsumeCheckpoint(_ context.Context, runID id.RunID) (*pipeline.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[runID.String()]
	if !ok || cp.Status != pipeline.CheckpointPending {
		return nil, interius.ErrCheckpointNotFound
	}

	now := time.Now().UTC()
	cp.Status = pipeline.CheckpointConsumed
	cp.ConsumedAt = &now
	c := *cp
	return &c, nil
}

// PurgeRun removes the run and its checkpoint.
func (m *Store) PurgeRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runID.String()
	if _, ok := m.runs[key]; !ok {
		return interius.ErrRunNotFound
	}
	delete(m.runs, key)
	delete(m.checkpoints, key)
	return nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent persists a record, rejecting a duplicate (run, seq) pair.
func (m *Store) AppendEvent(_ context.Context, rec *event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.RunID.String()
	for _, existing := range m.events[key] {
		if existing.Seq == rec.Seq {
			return interius.ErrEventAlreadyExists
		}
	}

	cp := *rec
	m.events[key] = append(m.events[key], &cp)
	sort.Slice(m.events[key], func(i, k int) bool {
		return m.events[key][i].Seq < m.events[key][k].Seq
	})
	return nil
}

// TailEvents returns the records for a run after sinceSeq, ascending.
func (m *Store) TailEvents(_ context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*event.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*event.Record
	for _, rec := range m.events[runID.String()] {
		if rec.Seq <= sinceSeq {
			continue
		}
		cp := *rec
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// LatestSeq returns the highest sequence number recorded for a run.
func (m *Store) LatestSeq(_ context.Context, runID id.RunID) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.events[runID.String()]
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].Seq, nil
}

// PurgeEvents removes all records for a run.
func (m *Store) PurgeEvents(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.events, runID.String())
	return nil
}

// copyRun clones a run deeply enough that callers can mutate their copy
// without racing with the store: maps and slices are duplicated, artifact
// pointers are shared (artifacts are replaced, never mutated in place).
func copyRun(r *pipeline.Run) *pipeline.Run {
	cp := *r
	cp.Context = append([]string(nil), r.Context...)
	cp.Dependencies = append([]string(nil), r.Dependencies...)
	cp.EditInstructions = append([]string(nil), r.EditInstructions...)
	if r.Files != nil {
		cp.Files = make(map[string]stage.CodeFile, len(r.Files))
		for k, v := range r.Files {
			cp.Files[k] = v
		}
	}
	if r.Timings != nil {
		cp.Timings = make(map[stage.Name]*pipeline.StageTiming, len(r.Timings))
		for k, v := range r.Timings {
			t := *v
			cp.Timings[k] = &t
		}
	}
	return &cp
}
