// Package client provides a Go client for connecting to a remote Interius
// instance via the Interius Wire Protocol (IWP) over WebSocket.
//
// Usage:
//
//	c, err := client.Dial("wss://api.example.com/iwp",
//	    client.WithToken("ik_..."),
//	)
//	defer c.Close()
//
//	// Start a generation run and watch its progress.
//	run, err := c.StartRun(ctx, "build a todo service")
//	ch, err := c.Watch(ctx, run.RunID, 0)
//	for evt := range ch {
//	    fmt.Printf("%s\n", evt.Type)
//	}
//
// The client speaks JSON on the wire. Watch channels survive reconnects:
// after re-dialing, the client resubscribes with the last sequence number
// it saw, replaying any records missed while disconnected.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/iwp"
	"github.com/eb-adutwum/Interius/stream"
)

// Client is an IWP client that communicates with a remote Interius server.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	conn      net.Conn
	mu        sync.Mutex
	closed    atomic.Bool
	sessionID string

	// Request-response correlation.
	pending sync.Map // frameID → chan *iwp.Frame

	// Subscriptions.
	subs sync.Map // channel → *subscription
}

// subscription tracks one channel subscription and, for run channels, the
// highest record sequence delivered so reconnects can resume replay.
type subscription struct {
	ch       chan *stream.Event
	channel  string
	trackSeq bool
	lastSeq  atomic.Uint64
}

// Dial connects to an IWP server and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to an IWP server with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("interius/client: dial: %w", err)
	}

	// Start the read loop.
	go c.readLoop()

	return c, nil
}

// connect establishes the WebSocket connection and sends the auth frame.
// It reads the auth_ok directly since the readLoop hasn't started yet.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	authFrame, marshalErr := iwp.NewAuthFrame(c.token, iwp.CodecNameJSON)
	if marshalErr != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth frame: %w", marshalErr)
	}
	if writeErr := c.writeFrame(authFrame); writeErr != nil {
		_ = conn.Close()
		return fmt.Errorf("write auth frame: %w", writeErr)
	}

	// Read the auth response directly from the WebSocket.
	// We cannot use readLoop here because it hasn't been started yet
	// (DialContext starts it after connect returns).
	type readResult struct {
		resp *iwp.Frame
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, readErr := wsutil.ReadServerText(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read auth response: %w", readErr)}
			return
		}
		var frame iwp.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			resultCh <- readResult{err: fmt.Errorf("unmarshal auth response: %w", unmarshalErr)}
			return
		}
		resultCh <- readResult{resp: &frame}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return result.err
		}
		resp := result.resp
		if resp.Type != iwp.FrameAuthOK {
			_ = conn.Close()
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return fmt.Errorf("auth failed: %s", msg)
		}
		var authResp iwp.AuthResponse
		if len(resp.Data) > 0 {
			if unmarshalErr := json.Unmarshal(resp.Data, &authResp); unmarshalErr != nil {
				c.logger.Warn("failed to unmarshal auth response", slog.String("error", unmarshalErr.Error()))
			}
		}
		c.sessionID = authResp.SessionID
		c.logger.Info("IWP client connected",
			slog.String("session_id", c.sessionID),
			slog.String("format", authResp.Format),
		)
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		_ = conn.Close()
		return fmt.Errorf("auth timeout")
	}
}

// readLoop reads frames from the WebSocket and dispatches them.
func (c *Client) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("IWP client read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		var frame iwp.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			c.logger.Warn("IWP client: invalid frame", slog.String("error", unmarshalErr.Error()))
			continue
		}

		// Route the frame.
		switch frame.Type {
		case iwp.FrameResponse, iwp.FrameSubscribed, iwp.FrameErr:
			// Correlate with pending request.
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *iwp.Frame) //nolint:errcheck // pending map always stores chan *iwp.Frame
				select {
				case ch <- &frame:
				default:
				}
			}
		case iwp.FrameEvent:
			c.deliverEvent(&frame)
		case iwp.FramePong:
			// Ignore pong frames.
		}
	}
}

// deliverEvent routes an event frame to its subscription, dropping run
// records the subscriber has already seen (replay overlaps live delivery).
func (c *Client) deliverEvent(frame *iwp.Frame) {
	val, ok := c.subs.Load(frame.Channel)
	if !ok {
		return
	}
	sub := val.(*subscription) //nolint:errcheck // subs map always stores *subscription

	var evt stream.Event
	if json.Unmarshal(frame.Data, &evt) != nil {
		return
	}

	if sub.trackSeq && evt.Type == stream.EventRunRecord {
		var rec event.Record
		if json.Unmarshal(evt.Data, &rec) != nil {
			return
		}
		for {
			last := sub.lastSeq.Load()
			if rec.Seq <= last {
				return // Already delivered.
			}
			if sub.lastSeq.CompareAndSwap(last, rec.Seq) {
				break
			}
		}
	}

	select {
	case sub.ch <- &evt:
	default:
		// Drop if subscriber is slow.
	}
}

// tryReconnect attempts to reconnect with exponential backoff and
// reestablishes subscriptions, resuming replay from the last seen seq.
func (c *Client) tryReconnect() {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("IWP client reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("IWP client reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.resubscribe()
		c.logger.Info("IWP client reconnected")
		go c.readLoop()
		return
	}
	c.logger.Error("IWP client: max reconnection attempts reached")
}

// resubscribe re-sends subscribe frames for all active subscriptions.
func (c *Client) resubscribe() {
	c.subs.Range(func(_, val any) bool {
		sub := val.(*subscription) //nolint:errcheck // subs map always stores *subscription
		frame := iwp.NewSubscribeFrame(sub.channel, sub.lastSeq.Load())
		if err := c.writeFrame(frame); err != nil {
			c.logger.Warn("IWP client resubscribe failed",
				slog.String("channel", sub.channel),
				slog.String("error", err.Error()),
			)
		}
		return true
	})
}

// send writes a frame and waits for the correlated response.
func (c *Client) send(ctx context.Context, frame *iwp.Frame) (*iwp.Frame, error) {
	respCh := make(chan *iwp.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == iwp.FrameErr {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("IWP error: %s", msg)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*iwp.Frame, error) {
	frame := &iwp.Frame{
		ID:        iwp.GenerateFrameID(),
		Type:      iwp.FrameRequest,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		frame.Data = raw
	}

	return c.send(ctx, frame)
}

// writeFrame JSON-encodes and sends a frame over the WebSocket.
func (c *Client) writeFrame(frame *iwp.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return wsutil.WriteClientText(c.conn, data)
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string { return c.sessionID }

// Close closes the client connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	// Close all subscription channels.
	c.subs.Range(func(key, val any) bool {
		sub := val.(*subscription) //nolint:errcheck // subs map always stores *subscription
		close(sub.ch)
		c.subs.Delete(key)
		return true
	})

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
