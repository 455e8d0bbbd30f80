package event

import (
	"context"

	"github.com/eb-adutwum/Interius/id"
)

// Store defines the persistence contract for the per-run event log.
type Store interface {
	// AppendEvent persists a record. The caller assigns Seq; the store
	// must reject a duplicate (run_id, seq) pair.
	AppendEvent(ctx context.Context, rec *Record) error

	// TailEvents returns the records for a run with Seq greater than
	// sinceSeq, in ascending sequence order. Limit zero means no limit.
	TailEvents(ctx context.Context, runID id.RunID, sinceSeq uint64, limit int) ([]*Record, error)

	// LatestSeq returns the highest sequence number recorded for a run,
	// or zero when the run has no events.
	LatestSeq(ctx context.Context, runID id.RunID) (uint64, error)

	// PurgeEvents removes all records for a run. Used by retention sweeps.
	PurgeEvents(ctx context.Context, runID id.RunID) error
}
