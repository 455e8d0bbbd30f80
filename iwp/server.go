package iwp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xraph/forge"

	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/stream"
)

// Server is the IWP server that handles WebSocket, SSE, and HTTP RPC
// connections. It integrates with the Interius engine via the stream
// broker and handles frame-based communication with clients.
//
// Subscribing to a run channel replays the run's durable records with
// Seq greater than the subscribe frame's since field before live events
// flow. Records may be delivered twice across the replay boundary;
// consumers drop seqs they have already seen.
type Server struct {
	broker       *stream.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger
	basePath     string
}

// NewServer creates a new IWP server.
func NewServer(broker *stream.Broker, handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		handler:      handler,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		basePath:     "/iwp",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	return s
}

// Broker returns the underlying stream broker.
func (s *Server) Broker() *stream.Broker { return s.broker }

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// RegisterRoutes mounts IWP endpoints on a Forge router.
func (s *Server) RegisterRoutes(router forge.Router) {
	// Primary: WebSocket
	if err := router.WebSocket(s.basePath, s.handleWebSocket); err != nil {
		s.logger.Error("failed to register IWP WebSocket", slog.String("error", err.Error()))
	}

	// Fallback: SSE for read-only subscriptions (uses EventStream handler)
	if err := router.EventStream(s.basePath+"/sse", s.handleSSE); err != nil {
		s.logger.Error("failed to register IWP SSE", slog.String("error", err.Error()))
	}

	// One-shot: HTTP RPC
	if err := router.POST(s.basePath+"/rpc", s.handleHTTPRPC); err != nil {
		s.logger.Error("failed to register IWP RPC", slog.String("error", err.Error()))
	}
}

// handleWebSocket is the main WebSocket connection handler.
func (s *Server) handleWebSocket(ctx forge.Context, conn forge.Connection) error {
	connID := conn.ID()
	s.logger.Info("IWP WebSocket connected", slog.String("conn_id", connID))

	// Wait for auth frame.
	authData, readErr := conn.Read()
	if readErr != nil {
		return fmt.Errorf("iwp: read auth frame: %w", readErr)
	}

	// Auth frames are always JSON (before codec negotiation).
	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		//nolint:errcheck // best-effort error response before disconnect
		conn.WriteJSON(NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return fmt.Errorf("iwp: unmarshal auth frame: %w", err)
	}

	if authFrame.Type != FrameAuth {
		//nolint:errcheck // best-effort error response before disconnect
		conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return fmt.Errorf("iwp: expected auth frame, got %q", authFrame.Type)
	}

	// Parse auth request.
	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			//nolint:errcheck // best-effort error response before disconnect
			conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return err
		}
	}

	// Authenticate.
	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(ctx.Context(), token)
	if authErr != nil {
		//nolint:errcheck // best-effort error response before disconnect
		conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return fmt.Errorf("iwp: auth failed: %w", authErr)
	}

	// Negotiate codec.
	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}

	// Create connection state.
	iwpConn := NewConnection(connID, identity, codec)
	s.conns.Add(iwpConn)
	defer func() {
		s.broker.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.logger.Info("IWP WebSocket disconnected", slog.String("conn_id", connID))
	}()

	// Send auth_ok. Like the auth frame, it is always JSON.
	okData, okErr := json.Marshal(AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
	})
	if okErr != nil {
		return fmt.Errorf("iwp: marshal auth response: %w", okErr)
	}
	authOK := &Frame{
		ID:        generateFrameID(),
		Type:      FrameAuthOK,
		CorrelID:  authFrame.ID,
		Data:      okData,
		Timestamp: authFrame.Timestamp,
	}
	if err := conn.WriteJSON(authOK); err != nil {
		return err
	}

	s.logger.Info("IWP authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	// Create a subscriber for this connection and start a goroutine
	// to forward broker events to the WebSocket.
	sub := s.broker.Subscribe(connID)
	go s.forwardEvents(conn, codec, sub)

	// Frame processing loop.
	for {
		data, err := conn.Read()
		if err != nil {
			return nil // Connection closed.
		}

		iwpConn.Touch()

		frame, decErr := codec.Decode(data)
		if decErr != nil {
			errFrame := NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error())
			if writeErr := s.writeFrame(conn, codec, errFrame); writeErr != nil {
				s.logger.Warn("failed to write error frame", slog.String("error", writeErr.Error()))
			}
			continue
		}

		var respFrame *Frame
		switch frame.Type {
		case FramePing:
			respFrame = &Frame{
				ID:        generateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			}

		case FrameCredit:
			if frame.Credits > 0 {
				sub.AddCredits(int64(frame.Credits))
			}
			continue

		case FrameSubscribe:
			respFrame = s.handleSubscribe(ctx.Context(), conn, codec, iwpConn, frame)

		case FrameUnsubscribe:
			s.broker.Unsubscribe(connID, frame.Channel)
			iwpConn.RemoveSubscription(frame.Channel)
			respFrame = mustResponseFrame(frame.ID, map[string]string{
				"channel": frame.Channel,
				"status":  "unsubscribed",
			})

		case FrameRequest:
			// Check authorization for the method.
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !identity.HasScope(reqScope) {
				respFrame = NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions")
				break
			}
			respFrame = s.handler.Handle(ctx.Context(), frame, iwpConn)

		default:
			respFrame = NewErrorFrame(frame.ID, ErrCodeBadRequest, "unexpected frame type: "+string(frame.Type))
		}

		if respFrame != nil {
			if writeErr := s.writeFrame(conn, codec, respFrame); writeErr != nil {
				s.logger.Warn("failed to write response frame", slog.String("error", writeErr.Error()))
			}
		}
	}
}

// handleSubscribe attaches the connection to a channel and replays durable
// records for run channels. Live delivery starts before the replay so no
// record can fall between the two.
func (s *Server) handleSubscribe(ctx context.Context, conn forge.Connection, codec Codec, iwpConn *Connection, frame *Frame) *Frame {
	if !iwpConn.Identity.HasScope(ScopeSubscribe) && !iwpConn.Identity.HasScope(ScopeAll) {
		return NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions")
	}
	if err := stream.ValidateTopic(frame.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	s.broker.SubscribeTo(iwpConn.ID, frame.Channel)
	iwpConn.AddSubscription(frame.Channel)

	sub := &Frame{
		ID:        generateFrameID(),
		Type:      FrameSubscribed,
		CorrelID:  frame.ID,
		Channel:   frame.Channel,
		Since:     frame.Since,
		Timestamp: frame.Timestamp,
	}
	if writeErr := s.writeFrame(conn, codec, sub); writeErr != nil {
		s.logger.Warn("failed to write subscribed frame", slog.String("error", writeErr.Error()))
		return nil
	}

	if entity, entityID := stream.ParseTopicEntity(frame.Channel); entity == "run" {
		s.replayRecords(ctx, conn, codec, frame.Channel, entityID, frame.Since)
	}
	return nil
}

// replayRecords writes the run's durable records after a sequence number
// as event frames.
func (s *Server) replayRecords(ctx context.Context, conn forge.Connection, codec Codec, channel, rawRunID string, since uint64) {
	runID, err := id.ParseRunID(rawRunID)
	if err != nil {
		return
	}

	records, err := s.handler.eng.Tail(ctx, runID, since, 0)
	if err != nil {
		s.logger.Warn("replay failed",
			slog.String("run_id", rawRunID),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, rec := range records {
		evtFrame, frameErr := NewEventFrame(channel, &stream.Event{
			Type:      stream.EventRunRecord,
			Timestamp: rec.Timestamp,
			Topic:     channel,
			Data:      mustMarshal(rec),
		})
		if frameErr != nil {
			continue
		}
		if writeErr := s.writeFrame(conn, codec, evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// forwardEvents reads from the subscriber channel and writes events
// to the WebSocket connection.
func (s *Server) forwardEvents(conn forge.Connection, codec Codec, sub *stream.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := s.writeFrame(conn, codec, evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

// writeFrame encodes and writes a frame to a Forge connection.
func (s *Server) writeFrame(conn forge.Connection, codec Codec, frame *Frame) error {
	if codec.Name() == CodecNameJSON {
		return conn.WriteJSON(frame)
	}
	data, err := codec.Encode(frame)
	if err != nil {
		return err
	}
	return conn.Write(data)
}

// handleSSE serves read-only Server-Sent Events for clients that
// cannot establish WebSocket connections.
func (s *Server) handleSSE(ctx forge.Context, sseStream forge.Stream) error {
	// Get token from query parameter.
	token := ctx.Query("token")
	identity, err := s.auth.Authenticate(ctx.Context(), token)
	if err != nil {
		return fmt.Errorf("iwp: SSE auth failed: %w", err)
	}

	// Get channel from query parameter.
	channel := ctx.Query("channel")
	if channel == "" {
		return fmt.Errorf("iwp: SSE channel parameter required")
	}
	if err = stream.ValidateTopic(channel); err != nil {
		return fmt.Errorf("iwp: SSE channel invalid: %w", err)
	}

	// Check subscribe permission.
	if !identity.HasScope(ScopeSubscribe) && !identity.HasScope(ScopeAll) {
		return fmt.Errorf("iwp: SSE insufficient permissions")
	}

	connID := fmt.Sprintf("sse-%s", generateFrameID())
	sub := s.broker.Subscribe(connID, channel)
	defer s.broker.RemoveSubscriber(connID)

	// Replay durable records for run channels before going live.
	if entity, entityID := stream.ParseTopicEntity(channel); entity == "run" {
		var since uint64
		if raw := ctx.Query("since"); raw != "" {
			since, _ = strconv.ParseUint(raw, 10, 64)
		}
		if runID, parseErr := id.ParseRunID(entityID); parseErr == nil {
			records, tailErr := s.handler.eng.Tail(ctx.Context(), runID, since, 0)
			if tailErr == nil {
				for _, rec := range records {
					evt := &stream.Event{
						Type:      stream.EventRunRecord,
						Timestamp: rec.Timestamp,
						Topic:     channel,
						Data:      mustMarshal(rec),
					}
					if sendErr := sseStream.SendJSON(string(evt.Type), evt); sendErr != nil {
						return sendErr
					}
				}
				if flushErr := sseStream.Flush(); flushErr != nil {
					return flushErr
				}
			}
		}
	}

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			if sendErr := sseStream.SendJSON(string(evt.Type), evt); sendErr != nil {
				return sendErr
			}
			if flushErr := sseStream.Flush(); flushErr != nil {
				return flushErr
			}
		case <-sseStream.Context().Done():
			return nil
		}
	}
}

// handleHTTPRPC handles one-shot HTTP RPC requests for simple operations.
func (s *Server) handleHTTPRPC(ctx forge.Context) error {
	// Parse the frame from the request body.
	var frame Frame
	if err := ctx.Bind(&frame); err != nil {
		return ctx.Status(400).JSON(NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
	}

	// Authenticate.
	token := frame.Token
	if token == "" {
		token = ctx.Header("Authorization")
	}
	identity, err := s.auth.Authenticate(ctx.Context(), token)
	if err != nil {
		return ctx.Status(401).JSON(NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
	}

	// Check authorization.
	reqScope := RequiredScope(frame.Method)
	if reqScope != "" && !identity.HasScope(reqScope) {
		return ctx.Status(403).JSON(NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
	}

	// Create a temporary connection for the handler.
	conn := NewConnection("rpc-"+generateFrameID(), identity, &JSONCodec{})

	// Dispatch.
	resp := s.handler.Handle(ctx.Context(), &frame, conn)
	if resp == nil {
		return ctx.NoContent(204)
	}

	status := 200
	if resp.Type == FrameErr && resp.Error != nil {
		status = resp.Error.Code
		if status < 100 || status > 599 {
			status = 500
		}
	}

	return ctx.Status(status).JSON(resp)
}
