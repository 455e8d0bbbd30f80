package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eb-adutwum/Interius/iwp"
	"github.com/eb-adutwum/Interius/stream"
)

// Subscribe subscribes to a stream topic and returns a channel of events.
// The channel is closed when the client disconnects or Unsubscribe is called.
//
// Topics follow the Interius stream convention:
//   - "run:<runID>" — Events for a specific run
//   - "runs"        — All run lifecycle events
//   - "firehose"    — Everything
//
// For run topics, since requests replay of durable records with Seq
// greater than since before live events flow; records seen during replay
// are deduplicated against the live stream.
func (c *Client) Subscribe(ctx context.Context, channel string, since uint64) (<-chan *stream.Event, error) {
	entity, _ := stream.ParseTopicEntity(channel)

	sub := &subscription{
		ch:       make(chan *stream.Event, 64),
		channel:  channel,
		trackSeq: entity == "run",
	}
	sub.lastSeq.Store(since)
	c.subs.Store(channel, sub)

	frame := iwp.NewSubscribeFrame(channel, since)
	if _, err := c.send(ctx, frame); err != nil {
		c.subs.Delete(channel)
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}

	return sub.ch, nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	frame := &iwp.Frame{
		ID:        iwp.GenerateFrameID(),
		Type:      iwp.FrameUnsubscribe,
		Channel:   channel,
		Timestamp: time.Now().UTC(),
	}
	_, err := c.send(ctx, frame)

	// Close and remove the local channel regardless.
	if val, ok := c.subs.LoadAndDelete(channel); ok {
		sub := val.(*subscription) //nolint:errcheck // subs map always stores *subscription
		close(sub.ch)
	}

	return err
}

// Watch subscribes to a run's events, replaying durable records after
// since first. This is a convenience method that subscribes to
// "run:<runID>".
func (c *Client) Watch(ctx context.Context, runID string, since uint64) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.RunTopic(runID), since)
}

// Credit replenishes flow-control credits for this connection's subscriber.
func (c *Client) Credit(credits int) error {
	return c.writeFrame(&iwp.Frame{
		ID:        iwp.GenerateFrameID(),
		Type:      iwp.FrameCredit,
		Credits:   credits,
		Timestamp: time.Now().UTC(),
	})
}

// Stats retrieves broker and connection statistics from the server.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, iwp.MethodStats, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
