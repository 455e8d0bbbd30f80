// Package mongo implements store.Store on MongoDB.
//
// Runs, checkpoints and events each live in their own collection. The
// checkpoint collection carries a unique index on run_id (one checkpoint
// per run) and the event collection a unique compound index on
// (run_id, seq), which lets the database reject duplicate appends.
package mongo
