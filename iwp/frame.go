// Package iwp implements the Interius Wire Protocol (IWP) — a message-based
// protocol for streaming run progress to clients and driving runs remotely.
// IWP is transported over WebSocket (primary), SSE (read-only fallback), and
// HTTP (one-shot RPC).
package iwp

import (
	"encoding/json"
	"time"

	"github.com/eb-adutwum/Interius/stage"
)

// FrameType identifies the frame category.
type FrameType string

const (
	// FrameAuth is the first frame on every connection, always JSON.
	FrameAuth FrameType = "auth"

	// FrameAuthOK acknowledges authentication and carries the
	// negotiated wire format.
	FrameAuthOK FrameType = "auth_ok"

	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"

	// FrameSubscribe attaches the connection to a channel, optionally
	// replaying durable records after a sequence number first.
	FrameSubscribe   FrameType = "subscribe"
	FrameSubscribed  FrameType = "subscribed"
	FrameUnsubscribe FrameType = "unsubscribe"

	FrameErr  FrameType = "error"
	FramePing FrameType = "ping"
	FramePong FrameType = "pong"

	// FrameCredit replenishes flow-control credits for the connection's
	// subscriber.
	FrameCredit FrameType = "credit"
)

// Frame is the IWP message envelope. Every message exchanged over the
// protocol is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "run.start").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Channel identifies the subscription channel for event/subscribe
	// frames.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Since requests replay of durable records with Seq > Since on
	// subscribe frames.
	Since uint64 `json:"since,omitempty" msgpack:"since,omitempty"`

	// Credits replenishes flow-control credits (backpressure).
	Credits int `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	MethodRunStart  = "run.start"
	MethodRunGet    = "run.get"
	MethodRunList   = "run.list"
	MethodRunResume = "run.resume"
	MethodRunCancel = "run.cancel"
	MethodRunTail   = "run.tail"
	MethodStats     = "stats"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeForbidden      = 403
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeConflict       = 409
	ErrCodeInternal       = 500
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is the payload of the auth frame.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is the payload of the auth_ok frame.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// RunStartRequest starts a new generation run.
type RunStartRequest struct {
	Prompt         string   `json:"prompt"`
	Context        []string `json:"context,omitempty"`
	ApprovalPolicy string   `json:"approval_policy,omitempty"`
	PriorRunID     string   `json:"prior_run_id,omitempty"`
}

// RunStartResponse confirms run creation.
type RunStartResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Stage  string `json:"stage"`
}

// RunGetRequest retrieves a run by ID.
type RunGetRequest struct {
	RunID string `json:"run_id"`
}

// RunListRequest lists runs filtered by status.
type RunListRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RunResumeRequest resumes a run paused at the approval boundary.
type RunResumeRequest struct {
	RunID                string              `json:"run_id"`
	EditInstructions     []string            `json:"edit_instructions,omitempty"`
	ApprovedRequirements *stage.Charter      `json:"approved_requirements,omitempty"`
	ApprovedArchitecture *stage.ArchitectureDoc `json:"approved_architecture,omitempty"`
}

// RunCancelRequest requests cooperative cancellation of a run.
type RunCancelRequest struct {
	RunID string `json:"run_id"`
}

// RunTailRequest replays a run's durable records after a sequence number.
type RunTailRequest struct {
	RunID string `json:"run_id"`
	Since uint64 `json:"since,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// NewRequestFrame creates a new request frame.
func NewRequestFrame(id, method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id,
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        generateFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       generateFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame for a subscription channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        generateFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewAuthFrame creates the handshake frame clients send first.
func NewAuthFrame(token, format string) (*Frame, error) {
	raw, err := json.Marshal(AuthRequest{Token: token, Format: format})
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        generateFrameID(),
		Type:      FrameAuth,
		Token:     token,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewSubscribeFrame creates a subscription frame with optional replay.
func NewSubscribeFrame(channel string, since uint64) *Frame {
	return &Frame{
		ID:        generateFrameID(),
		Type:      FrameSubscribe,
		Channel:   channel,
		Since:     since,
		Timestamp: time.Now().UTC(),
	}
}

// GenerateFrameID returns a new unique frame ID.
// Uses a simple timestamp + counter approach for performance.
func GenerateFrameID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}

func generateFrameID() string { return GenerateFrameID() }
