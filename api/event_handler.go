package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
)

func (a *API) tailEvents(ctx forge.Context, req *TailEventsRequest) ([]*event.Record, error) {
	runID, err := id.ParseRunID(ctx.Param("runId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid run ID: %v", err))
	}

	// Confirm the run exists so an unknown ID reads as 404, not an
	// empty tail.
	if _, err = a.eng.GetRun(ctx.Context(), runID); err != nil {
		return nil, mapEngineError(err)
	}

	records, err := a.eng.Tail(ctx.Context(), runID, req.Since, defaultLimit(req.Limit))
	if err != nil {
		return nil, mapEngineError(err)
	}
	return records, ctx.JSON(http.StatusOK, records)
}
