// Package api provides HTTP handlers for the Interius API.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/eb-adutwum/Interius/engine"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/pipeline"
)

// API wires all Forge-style HTTP handlers together for the Interius system.
type API struct {
	eng    *engine.Engine
	router forge.Router
}

// New creates an API from an Interius Engine.
func New(eng *engine.Engine, router forge.Router) *API {
	return &API{eng: eng, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all Interius API routes into the given Forge
// router with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerRunRoutes(router)
	a.registerStatsRoutes(router)
}

// registerRunRoutes registers run management routes.
func (a *API) registerRunRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("runs"))

	_ = g.POST("/runs", a.startRun,
		forge.WithSummary("Start run"),
		forge.WithDescription("Starts a new generation run from a natural-language prompt."),
		forge.WithOperationID("startRun"),
		forge.WithRequestSchema(StartRunRequest{}),
		forge.WithCreatedResponse(&pipeline.Run{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/runs", a.listRuns,
		forge.WithSummary("List runs"),
		forge.WithDescription("Returns runs filtered by status, oldest first."),
		forge.WithOperationID("listRuns"),
		forge.WithRequestSchema(ListRunsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Run list", []*pipeline.Run{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/runs/:runId", a.getRun,
		forge.WithSummary("Get run"),
		forge.WithDescription("Returns details of a specific run."),
		forge.WithOperationID("getRun"),
		forge.WithResponseSchema(http.StatusOK, "Run details", &pipeline.Run{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/runs/:runId/events", a.tailEvents,
		forge.WithSummary("Tail run events"),
		forge.WithDescription("Replays the run's durable event records after a sequence number."),
		forge.WithOperationID("tailRunEvents"),
		forge.WithRequestSchema(TailEventsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Event records", []*event.Record{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/runs/:runId/resume", a.resumeRun,
		forge.WithSummary("Resume run"),
		forge.WithDescription("Resumes a run paused at the approval boundary, with optional edits."),
		forge.WithOperationID("resumeRun"),
		forge.WithRequestSchema(ResumeRunRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Resumed run", &pipeline.Run{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/runs/:runId/cancel", a.cancelRun,
		forge.WithSummary("Cancel run"),
		forge.WithDescription("Requests cooperative cancellation of a run."),
		forge.WithOperationID("cancelRun"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	)
}

// registerStatsRoutes registers aggregate statistics routes.
func (a *API) registerStatsRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("stats"))

	_ = g.GET("/stats", a.stats,
		forge.WithSummary("Interius stats"),
		forge.WithDescription("Returns aggregate statistics for runs and the stream broker."),
		forge.WithOperationID("interiusStats"),
		forge.WithResponseSchema(http.StatusOK, "Interius statistics", StatsResponse{}),
		forge.WithErrorResponses(),
	)
}
