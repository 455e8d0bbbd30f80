package redis

// Redis key naming conventions for Interius data.
// All keys are prefixed with "interius:" to avoid collisions.

const keyPrefix = "interius:"

// ── Run keys ──

// runKey returns the key for a run entity: interius:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs for enumeration.
const runIDsKey = keyPrefix + "run_ids"

// ── Checkpoint keys ──

// checkpointKey returns the key for a run's checkpoint:
// interius:checkpoint:{runID}. A run has at most one checkpoint.
func checkpointKey(runID string) string { return keyPrefix + "checkpoint:" + runID }

// ── Event keys ──

// eventsKey returns the Hash key for a run's event log, keyed by sequence
// number: interius:events:{runID}
func eventsKey(runID string) string { return keyPrefix + "events:" + runID }
