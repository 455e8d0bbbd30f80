package iwp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/engine"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stream"
)

// Handler dispatches IWP request frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	broker *stream.Broker
	logger *slog.Logger
}

// NewHandler creates a new IWP method handler.
func NewHandler(eng *engine.Engine, broker *stream.Broker, logger *slog.Logger) *Handler {
	return &Handler{eng: eng, broker: broker, logger: logger}
}

// Handle processes a single IWP request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodRunStart:
		return h.handleRunStart(ctx, frame)
	case MethodRunGet:
		return h.handleRunGet(ctx, frame)
	case MethodRunList:
		return h.handleRunList(ctx, frame)
	case MethodRunResume:
		return h.handleRunResume(ctx, frame)
	case MethodRunCancel:
		return h.handleRunCancel(ctx, frame)
	case MethodRunTail:
		return h.handleRunTail(ctx, frame)
	case MethodStats:
		return h.handleStats(frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on
// marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// errorCode maps engine sentinel errors to IWP error codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, interius.ErrRunNotFound),
		errors.Is(err, interius.ErrCheckpointNotFound),
		errors.Is(err, interius.ErrEventNotFound):
		return ErrCodeNotFound
	case errors.Is(err, interius.ErrInvalidInput),
		errors.Is(err, interius.ErrPromptTooLong),
		errors.Is(err, interius.ErrTooManyRuns):
		return ErrCodeBadRequest
	default:
		return ErrCodeInternal
	}
}

func (h *Handler) handleRunStart(ctx context.Context, frame *Frame) *Frame {
	var req RunStartRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	start := pipeline.StartRequest{
		Prompt:         req.Prompt,
		Context:        req.Context,
		ApprovalPolicy: pipeline.ApprovalPolicy(req.ApprovalPolicy),
	}
	if req.PriorRunID != "" {
		priorID, err := id.ParseRunID(req.PriorRunID)
		if err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid prior run ID: "+err.Error())
		}
		start.PriorRunID = priorID
	}

	run, err := h.eng.StartGeneration(ctx, start)
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "start failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, RunStartResponse{
		RunID:  run.ID.String(),
		Status: string(run.Status),
		Stage:  string(run.Stage),
	})
}

func (h *Handler) handleRunGet(ctx context.Context, frame *Frame) *Frame {
	var req RunGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	run, err := h.eng.GetRun(ctx, runID)
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "run not found: "+err.Error())
	}

	return mustResponseFrame(frame.ID, run)
}

func (h *Handler) handleRunList(ctx context.Context, frame *Frame) *Frame {
	var req RunListRequest
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
		}
	}

	runs, err := h.eng.ListRuns(ctx, pipeline.ListOpts{
		Status: pipeline.Status(req.Status),
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "list failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, runs)
}

func (h *Handler) handleRunResume(ctx context.Context, frame *Frame) *Frame {
	var req RunResumeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	err = h.eng.Resume(ctx, runID, pipeline.ResumeOptions{
		EditInstructions:     req.EditInstructions,
		ApprovedRequirements: req.ApprovedRequirements,
		ApprovedArchitecture: req.ApprovedArchitecture,
	})
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "resume failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]string{
		"run_id": runID.String(),
		"status": "resumed",
	})
}

func (h *Handler) handleRunCancel(ctx context.Context, frame *Frame) *Frame {
	var req RunCancelRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	if err = h.eng.Cancel(ctx, runID); err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "cancel failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, map[string]string{
		"run_id": runID.String(),
		"status": "cancelled",
	})
}

func (h *Handler) handleRunTail(ctx context.Context, frame *Frame) *Frame {
	var req RunTailRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	records, err := h.eng.Tail(ctx, runID, req.Since, req.Limit)
	if err != nil {
		return NewErrorFrame(frame.ID, errorCode(err), "tail failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, records)
}

func (h *Handler) handleStats(frame *Frame) *Frame {
	stats := h.eng.Stats()
	return mustResponseFrame(frame.ID, map[string]any{
		"active_runs": stats.ActiveRuns,
		"broker":      stats.Broker,
	})
}
