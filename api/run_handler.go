package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
)

func (a *API) startRun(ctx forge.Context, req *StartRunRequest) (*pipeline.Run, error) {
	start := pipeline.StartRequest{
		Prompt:         req.Prompt,
		Context:        req.Context,
		ApprovalPolicy: pipeline.ApprovalPolicy(req.ApprovalPolicy),
	}
	if req.PriorRunID != "" {
		priorID, err := id.ParseRunID(req.PriorRunID)
		if err != nil {
			return nil, forge.BadRequest(fmt.Sprintf("invalid prior run ID: %v", err))
		}
		start.PriorRunID = priorID
	}

	run, err := a.eng.StartGeneration(ctx.Context(), start)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return run, ctx.JSON(http.StatusCreated, run)
}

func (a *API) listRuns(ctx forge.Context, req *ListRunsRequest) ([]*pipeline.Run, error) {
	var status pipeline.Status
	if req.Status != "" {
		status = pipeline.Status(req.Status)
	}

	runs, err := a.eng.ListRuns(ctx.Context(), pipeline.ListOpts{
		Limit:  defaultLimit(req.Limit),
		Offset: req.Offset,
		Status: status,
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, ctx.JSON(http.StatusOK, runs)
}

func (a *API) getRun(ctx forge.Context, _ *GetRunRequest) (*pipeline.Run, error) {
	runID, err := id.ParseRunID(ctx.Param("runId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid run ID: %v", err))
	}

	run, err := a.eng.GetRun(ctx.Context(), runID)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return run, ctx.JSON(http.StatusOK, run)
}

func (a *API) resumeRun(ctx forge.Context, req *ResumeRunRequest) (*pipeline.Run, error) {
	runID, err := id.ParseRunID(ctx.Param("runId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid run ID: %v", err))
	}

	err = a.eng.Resume(ctx.Context(), runID, pipeline.ResumeOptions{
		EditInstructions:     req.EditInstructions,
		ApprovedRequirements: req.ApprovedRequirements,
		ApprovedArchitecture: req.ApprovedArchitecture,
	})
	if err != nil {
		return nil, mapEngineError(err)
	}

	run, err := a.eng.GetRun(ctx.Context(), runID)
	if err != nil {
		return nil, mapEngineError(err)
	}
	return run, ctx.JSON(http.StatusOK, run)
}

func (a *API) cancelRun(ctx forge.Context, _ *CancelRunRequest) (*struct{}, error) {
	runID, err := id.ParseRunID(ctx.Param("runId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid run ID: %v", err))
	}

	if err = a.eng.Cancel(ctx.Context(), runID); err != nil {
		return nil, mapEngineError(err)
	}
	return nil, ctx.NoContent(http.StatusNoContent)
}

// mapEngineError converts interius sentinel errors to forge HTTP errors.
func mapEngineError(err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return forge.NotFound(err.Error())
	case errors.Is(err, interius.ErrInvalidInput),
		errors.Is(err, interius.ErrPromptTooLong),
		errors.Is(err, interius.ErrTooManyRuns):
		return forge.BadRequest(err.Error())
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, interius.ErrRunNotFound) ||
		errors.Is(err, interius.ErrCheckpointNotFound) ||
		errors.Is(err, interius.ErrEventNotFound)
}
