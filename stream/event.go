// Package stream provides a real-time event broker for Interius lifecycle
// events. It bridges the ext.Extension system and the durable event log to
// connected clients via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Run events.
	EventRunStarted   EventType = "run.started"
	EventRunResumed   EventType = "run.resumed"
	EventRunAwaiting  EventType = "run.awaiting_approval"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunCancelled EventType = "run.cancelled"

	// Stage events.
	EventStageStarted     EventType = "stage.started"
	EventStageCompleted   EventType = "stage.completed"
	EventStageFailed      EventType = "stage.failed"
	EventArtifactProduced EventType = "artifact.produced"
	EventReviewUpdate     EventType = "review.update"

	// Record events carry a durably appended event log record, sequence
	// number included, so live watchers see exactly what replay returns.
	EventRunRecord EventType = "run.record"

	// Sweep events.
	EventSweepCompleted EventType = "sweep.completed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// RunEventData is the payload for run lifecycle events.
type RunEventData struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StageEventData is the payload for stage lifecycle events.
type StageEventData struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SweepEventData is the payload for retention sweep events.
type SweepEventData struct {
	Purged int `json:"purged"`
}
