package audithook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	audithook "github.com/eb-adutwum/Interius/audit_hook"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
)

// captureRecorder collects every audit event it receives.
type captureRecorder struct {
	events []*audithook.AuditEvent
	err    error
}

func (r *captureRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	r.events = append(r.events, evt)
	return r.err
}

func (r *captureRecorder) last(t *testing.T) *audithook.AuditEvent {
	t.Helper()
	if len(r.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return r.events[len(r.events)-1]
}

func testRun() *pipeline.Run {
	return &pipeline.Run{
		ID:               id.NewRunID(),
		Prompt:           "build a todo service",
		ApprovalPolicy:   pipeline.ApprovalHuman,
		Status:           pipeline.StatusRunning,
		Stage:            stage.Implementer,
		ReviewIterations: 2,
	}
}

func TestExtension_Name(t *testing.T) {
	e := audithook.New(&captureRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("Name() = %q, want %q", e.Name(), "audit-hook")
	}
}

func TestExtension_RunStarted(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec)
	run := testRun()

	if err := e.OnRunStarted(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt := rec.last(t)
	if evt.Action != audithook.ActionRunStarted {
		t.Errorf("Action = %q, want %q", evt.Action, audithook.ActionRunStarted)
	}
	if evt.ResourceID != run.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, run.ID)
	}
	if evt.Severity != audithook.SeverityInfo {
		t.Errorf("Severity = %q, want info", evt.Severity)
	}
	if evt.Metadata["approval_policy"] != "human" {
		t.Errorf("approval_policy = %v, want human", evt.Metadata["approval_policy"])
	}
}

func TestExtension_RunFailed_CriticalWithReason(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec)

	runErr := errors.New("stage implementer exceeded 5m0s")
	if err := e.OnRunFailed(context.Background(), testRun(), runErr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt := rec.last(t)
	if evt.Severity != audithook.SeverityCritical {
		t.Errorf("Severity = %q, want critical", evt.Severity)
	}
	if evt.Outcome != audithook.OutcomeFailure {
		t.Errorf("Outcome = %q, want failure", evt.Outcome)
	}
	if evt.Reason != runErr.Error() {
		t.Errorf("Reason = %q, want %q", evt.Reason, runErr.Error())
	}
	if evt.Metadata["error"] != runErr.Error() {
		t.Errorf("metadata error = %v, want %q", evt.Metadata["error"], runErr.Error())
	}
}

func TestExtension_StageCompleted_Metadata(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec)

	if err := e.OnStageCompleted(context.Background(), testRun(), stage.Architecture, 1500*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt := rec.last(t)
	if evt.Category != audithook.CategoryStage {
		t.Errorf("Category = %q, want %q", evt.Category, audithook.CategoryStage)
	}
	if evt.Metadata["stage"] != "architecture" {
		t.Errorf("stage = %v, want architecture", evt.Metadata["stage"])
	}
	if evt.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("elapsed_ms = %v, want 1500", evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_ReviewUpdate_UnresolvedIsWarning(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec)
	run := testRun()

	_ = e.OnReviewUpdate(context.Background(), run, "pass", "")
	if rec.last(t).Severity != audithook.SeverityInfo {
		t.Errorf("pass severity = %q, want info", rec.last(t).Severity)
	}

	_ = e.OnReviewUpdate(context.Background(), run, "unresolved", "2 issues remain")
	if rec.last(t).Severity != audithook.SeverityWarning {
		t.Errorf("unresolved severity = %q, want warning", rec.last(t).Severity)
	}
}

func TestExtension_SweepCompleted(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec)

	if err := e.OnSweepCompleted(context.Background(), 12); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt := rec.last(t)
	if evt.Action != audithook.ActionSweepCompleted {
		t.Errorf("Action = %q, want %q", evt.Action, audithook.ActionSweepCompleted)
	}
	if evt.Metadata["purged"] != 12 {
		t.Errorf("purged = %v, want 12", evt.Metadata["purged"])
	}
}

func TestExtension_WithActions_Filters(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec, audithook.WithActions(audithook.ActionRunFailed))

	run := testRun()
	_ = e.OnRunStarted(context.Background(), run)
	_ = e.OnRunCompleted(context.Background(), run, time.Second)
	if len(rec.events) != 0 {
		t.Fatalf("filtered actions were recorded: %d events", len(rec.events))
	}

	_ = e.OnRunFailed(context.Background(), run, errors.New("boom"))
	if len(rec.events) != 1 {
		t.Fatalf("enabled action not recorded: %d events", len(rec.events))
	}
}

func TestExtension_RecorderErrorNotPropagated(t *testing.T) {
	rec := &captureRecorder{err: errors.New("backend down")}
	e := audithook.New(rec)

	// Hook errors must never block the pipeline.
	if err := e.OnRunStarted(context.Background(), testRun()); err != nil {
		t.Fatalf("recorder error propagated: %v", err)
	}
}

func TestAllActions_CoversEveryConstant(t *testing.T) {
	actions := audithook.AllActions()
	if len(actions) != 11 {
		t.Fatalf("AllActions returned %d actions, want 11", len(actions))
	}
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if seen[a] {
			t.Errorf("duplicate action %q", a)
		}
		seen[a] = true
	}
}
