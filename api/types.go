package api

import (
	"github.com/eb-adutwum/Interius/stage"
)

// defaultListLimit caps unbounded list queries.
const defaultListLimit = 100

// StartRunRequest is the body for POST /v1/runs.
type StartRunRequest struct {
	Prompt         string   `json:"prompt"`
	Context        []string `json:"context,omitempty"`
	ApprovalPolicy string   `json:"approval_policy,omitempty"`
	PriorRunID     string   `json:"prior_run_id,omitempty"`
}

// ListRunsRequest carries the query parameters for GET /v1/runs.
type ListRunsRequest struct {
	Status string `query:"status" json:"status,omitempty"`
	Limit  int    `query:"limit"  json:"limit,omitempty"`
	Offset int    `query:"offset" json:"offset,omitempty"`
}

// GetRunRequest is the (path-only) request for GET /v1/runs/:runId.
type GetRunRequest struct{}

// TailEventsRequest carries the query parameters for
// GET /v1/runs/:runId/events.
type TailEventsRequest struct {
	Since uint64 `query:"since" json:"since,omitempty"`
	Limit int    `query:"limit" json:"limit,omitempty"`
}

// ResumeRunRequest is the body for POST /v1/runs/:runId/resume.
type ResumeRunRequest struct {
	EditInstructions     []string            `json:"edit_instructions,omitempty"`
	ApprovedRequirements *stage.Charter      `json:"approved_requirements,omitempty"`
	ApprovedArchitecture *stage.ArchitectureDoc `json:"approved_architecture,omitempty"`
}

// CancelRunRequest is the (path-only) request for POST /v1/runs/:runId/cancel.
type CancelRunRequest struct{}

// RunCounts groups run totals by status.
type RunCounts struct {
	Running          int `json:"running"`
	AwaitingApproval int `json:"awaiting_approval"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	Cancelled        int `json:"cancelled"`
}

// StatsResponse is the payload for GET /v1/stats.
type StatsResponse struct {
	Runs            RunCounts `json:"runs"`
	ActiveRuns      int       `json:"active_runs"`
	SubscriberCount int       `json:"subscriber_count"`
	TotalPublished  int64     `json:"total_published"`
}

// defaultLimit substitutes the default list cap for non-positive limits.
func defaultLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
