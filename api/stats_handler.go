package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/eb-adutwum/Interius/pipeline"
)

func (a *API) stats(ctx forge.Context) error {
	c := ctx.Context()

	// Run counts.
	var counts RunCounts
	for _, status := range []pipeline.Status{
		pipeline.StatusRunning, pipeline.StatusAwaitingApproval,
		pipeline.StatusCompleted, pipeline.StatusFailed, pipeline.StatusCancelled,
	} {
		runs, err := a.eng.ListRuns(c, pipeline.ListOpts{Status: status})
		if err != nil {
			return err
		}
		switch status {
		case pipeline.StatusRunning:
			counts.Running = len(runs)
		case pipeline.StatusAwaitingApproval:
			counts.AwaitingApproval = len(runs)
		case pipeline.StatusCompleted:
			counts.Completed = len(runs)
		case pipeline.StatusFailed:
			counts.Failed = len(runs)
		case pipeline.StatusCancelled:
			counts.Cancelled = len(runs)
		}
	}

	engineStats := a.eng.Stats()
	return ctx.JSON(http.StatusOK, StatsResponse{
		Runs:            counts,
		ActiveRuns:      engineStats.ActiveRuns,
		SubscriberCount: engineStats.Broker.SubscriberCount,
		TotalPublished:  engineStats.Broker.TotalPublished,
	})
}
