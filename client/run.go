package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/iwp"
	"github.com/eb-adutwum/Interius/stage"
)

// RunResult contains the result of a start operation.
type RunResult struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Stage  string `json:"stage"`
}

// StartRun starts a generation run on the remote Interius server.
func (c *Client) StartRun(ctx context.Context, prompt string, opts ...StartOption) (*RunResult, error) {
	req := iwp.RunStartRequest{Prompt: prompt}
	for _, opt := range opts {
		opt(&req)
	}

	resp, reqErr := c.request(ctx, iwp.MethodRunStart, req)
	if reqErr != nil {
		return nil, reqErr
	}

	var result RunResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

// GetRun retrieves a run by ID.
func (c *Client) GetRun(ctx context.Context, runID string) (json.RawMessage, error) {
	resp, err := c.request(ctx, iwp.MethodRunGet, iwp.RunGetRequest{
		RunID: runID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListRuns lists runs, optionally filtered by status.
func (c *Client) ListRuns(ctx context.Context, status string) (json.RawMessage, error) {
	resp, err := c.request(ctx, iwp.MethodRunList, iwp.RunListRequest{
		Status: status,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ResumeRun resumes a run paused at the approval boundary.
func (c *Client) ResumeRun(ctx context.Context, runID string, opts ...ResumeOption) error {
	req := iwp.RunResumeRequest{RunID: runID}
	for _, opt := range opts {
		opt(&req)
	}
	_, err := c.request(ctx, iwp.MethodRunResume, req)
	return err
}

// CancelRun requests cooperative cancellation of a run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	_, err := c.request(ctx, iwp.MethodRunCancel, iwp.RunCancelRequest{
		RunID: runID,
	})
	return err
}

// Tail replays the run's durable records with Seq greater than since.
func (c *Client) Tail(ctx context.Context, runID string, since uint64, limit int) ([]*event.Record, error) {
	resp, err := c.request(ctx, iwp.MethodRunTail, iwp.RunTailRequest{
		RunID: runID,
		Since: since,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	var records []*event.Record
	if err := json.Unmarshal(resp.Data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}
	return records, nil
}

// StartOption configures a start request.
type StartOption func(*iwp.RunStartRequest)

// WithContext attaches supplemental context documents to the run.
func WithContext(docs ...string) StartOption {
	return func(r *iwp.RunStartRequest) { r.Context = append(r.Context, docs...) }
}

// WithApprovalPolicy sets the run's approval policy ("auto" or "human").
func WithApprovalPolicy(policy string) StartOption {
	return func(r *iwp.RunStartRequest) { r.ApprovalPolicy = policy }
}

// WithPriorRun forks the new run from a prior run's artifacts.
func WithPriorRun(runID string) StartOption {
	return func(r *iwp.RunStartRequest) { r.PriorRunID = runID }
}

// ResumeOption configures a resume request.
type ResumeOption func(*iwp.RunResumeRequest)

// WithEdits attaches edit instructions to the resume.
func WithEdits(instructions ...string) ResumeOption {
	return func(r *iwp.RunResumeRequest) {
		r.EditInstructions = append(r.EditInstructions, instructions...)
	}
}

// WithApprovedRequirements substitutes an edited requirements charter.
func WithApprovedRequirements(charter *stage.Charter) ResumeOption {
	return func(r *iwp.RunResumeRequest) { r.ApprovedRequirements = charter }
}

// WithApprovedArchitecture substitutes an edited architecture.
func WithApprovedArchitecture(arch *stage.ArchitectureDoc) ResumeOption {
	return func(r *iwp.RunResumeRequest) { r.ApprovedArchitecture = arch }
}
