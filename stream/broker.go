package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/ext"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Broker)(nil)
	_ ext.RunStarted       = (*Broker)(nil)
	_ ext.RunResumed       = (*Broker)(nil)
	_ ext.AwaitingApproval = (*Broker)(nil)
	_ ext.RunCompleted     = (*Broker)(nil)
	_ ext.RunFailed        = (*Broker)(nil)
	_ ext.RunCancelled     = (*Broker)(nil)
	_ ext.StageStarted     = (*Broker)(nil)
	_ ext.StageCompleted   = (*Broker)(nil)
	_ ext.StageFailed      = (*Broker)(nil)
	_ ext.ArtifactProduced = (*Broker)(nil)
	_ ext.ReviewUpdate     = (*Broker)(nil)
	_ ext.SweepCompleted   = (*Broker)(nil)
	_ ext.Shutdown         = (*Broker)(nil)
	_ event.Notifier       = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the ext.Extension
// hooks to receive lifecycle events, and event.Notifier to relay durably
// appended log records, fanning both out to subscribers via topic-based
// pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry for external use (e.g., IWP server).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event to all matching topics.
func (b *Broker) publish(evt *Event) {
	topics := resolveTopics(evt)
	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Event log relay ─────────────────────────────────

// EventAppended implements event.Notifier. It relays a durably appended
// log record, sequence number intact, to the run's topic so a live watcher
// sees the same records a replay from the store would return.
func (b *Broker) EventAppended(rec *event.Record) {
	b.publish(&Event{
		Type:      EventRunRecord,
		Timestamp: rec.Timestamp,
		Topic:     RunTopic(rec.RunID.String()),
		Data:      mustMarshal(rec),
	})
}

// ── Run lifecycle hooks ─────────────────────────────

func (b *Broker) OnRunStarted(_ context.Context, r *pipeline.Run) error {
	b.publish(&Event{
		Type:      EventRunStarted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(RunEventData{
			RunID:  r.ID.String(),
			Status: string(r.Status),
			Stage:  string(r.Stage),
		}),
	})
	return nil
}

func (b *Broker) OnRunResumed(_ context.Context, r *pipeline.Run) error {
	b.publish(&Event{
		Type:      EventRunResumed,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(RunEventData{
			RunID:  r.ID.String(),
			Status: string(r.Status),
			Stage:  string(r.Stage),
		}),
	})
	return nil
}

func (b *Broker) OnAwaitingApproval(_ context.Context, r *pipeline.Run) error {
	b.publish(&Event{
		Type:      EventRunAwaiting,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(RunEventData{
			RunID:  r.ID.String(),
			Status: string(r.Status),
			Stage:  string(r.Stage),
		}),
	})
	return nil
}

func (b *Broker) OnRunCompleted(_ context.Context, r *pipeline.Run, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventRunCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(RunEventData{
			RunID:     r.ID.String(),
			Status:    string(r.Status),
			ElapsedMs: elapsed.Milliseconds(),
		}),
	})
	return nil
}

func (b *Broker) OnRunFailed(_ context.Context, r *pipeline.Run, runErr error) error {
	b.publish(&Event{
		Type:      EventRunFailed,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(RunEventData{
			RunID:  r.ID.String(),
			Status: string(r.Status),
			Stage:  string(r.Stage),
			Error:  runErr.Error(),
		}),
	})
	return nil
}

func (b *Broker) OnRunCancelled(_ context.Context, r *pipeline.Run) error {
	b.publish(&Event{
		Type:      EventRunCancelled,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(RunEventData{
			RunID:  r.ID.String(),
			Status: string(r.Status),
			Stage:  string(r.Stage),
		}),
	})
	return nil
}

// ── Stage lifecycle hooks ───────────────────────────

func (b *Broker) OnStageStarted(_ context.Context, r *pipeline.Run, s stage.Name) error {
	b.publish(&Event{
		Type:      EventStageStarted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(StageEventData{
			RunID: r.ID.String(),
			Stage: string(s),
		}),
	})
	return nil
}

func (b *Broker) OnStageCompleted(_ context.Context, r *pipeline.Run, s stage.Name, elapsed time.Duration) error {
	b.publish(&Event{
		Type:      EventStageCompleted,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(StageEventData{
			RunID:     r.ID.String(),
			Stage:     string(s),
			ElapsedMs: elapsed.Milliseconds(),
		}),
	})
	return nil
}

func (b *Broker) OnStageFailed(_ context.Context, r *pipeline.Run, s stage.Name, stageErr error) error {
	b.publish(&Event{
		Type:      EventStageFailed,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(StageEventData{
			RunID: r.ID.String(),
			Stage: string(s),
			Error: stageErr.Error(),
		}),
	})
	return nil
}

func (b *Broker) OnArtifactProduced(_ context.Context, r *pipeline.Run, artifact *stage.Artifact) error {
	b.publish(&Event{
		Type:      EventArtifactProduced,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(StageEventData{
			RunID: r.ID.String(),
			Stage: string(artifact.Stage),
		}),
	})
	return nil
}

func (b *Broker) OnReviewUpdate(_ context.Context, r *pipeline.Run, kind, message string) error {
	b.publish(&Event{
		Type:      EventReviewUpdate,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(r.ID.String()),
		Data: mustMarshal(StageEventData{
			RunID:   r.ID.String(),
			Stage:   string(stage.Reviewer),
			Kind:    kind,
			Message: message,
		}),
	})
	return nil
}

// ── Sweep lifecycle hooks ───────────────────────────

func (b *Broker) OnSweepCompleted(_ context.Context, purged int) error {
	b.publish(&Event{
		Type:      EventSweepCompleted,
		Timestamp: time.Now().UTC(),
		Data:      mustMarshal(SweepEventData{Purged: purged}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
