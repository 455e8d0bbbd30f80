package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/backoff"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
	"github.com/eb-adutwum/Interius/store/memory"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() interius.Config {
	cfg := interius.DefaultConfig()
	cfg.StageTimeout = 2 * time.Second
	return cfg
}

// counters tracks executor invocations per stage.
type counters struct {
	requirements atomic.Int32
	architecture atomic.Int32
	implementer  atomic.Int32
	reviewer     atomic.Int32
}

func testCharter() *stage.Charter {
	return &stage.Charter{
		Summary: "a todo service",
		Entities: []stage.Entity{{
			Name: "Todo",
			Fields: []stage.Field{
				{Name: "id", Type: "uuid", Constraints: []string{"primary key"}},
				{Name: "title", Type: "string", Constraints: []string{"required"}},
			},
		}},
		Endpoints: []stage.Endpoint{
			{Method: "GET", Path: "/todos", Description: "list todos"},
		},
	}
}

func testArchitecture() *stage.ArchitectureDoc {
	return &stage.ArchitectureDoc{
		DesignDocument: "# Design\n\nA todo service.",
		MermaidDiagram: "graph TD; api-->db",
		Components:     []stage.Component{{Name: "api", Responsibility: "HTTP layer"}},
	}
}

func testCode() *stage.GeneratedCode {
	return &stage.GeneratedCode{
		Files: []stage.CodeFile{
			{Path: "main.py", Content: "app = FastAPI()"},
			{Path: "models.py", Content: "class Todo: ..."},
		},
		Dependencies: []string{"fastapi", "sqlalchemy"},
	}
}

// registerHappyPath installs executors that produce valid artifacts for
// every stage. The reviewer approves on the first pass.
func registerHappyPath(reg *stage.Registry, c *counters) {
	reg.Register(stage.Requirements, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.requirements.Add(1)
		return &stage.Artifact{Stage: stage.Requirements, Charter: testCharter()}, nil
	}))
	reg.Register(stage.Architecture, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.architecture.Add(1)
		return &stage.Artifact{Stage: stage.Architecture, Architecture: testArchitecture()}, nil
	}))
	reg.Register(stage.Implementer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.implementer.Add(1)
		return &stage.Artifact{Stage: stage.Implementer, Code: testCode()}, nil
	}))
	reg.Register(stage.Reviewer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.reviewer.Add(1)
		return &stage.Artifact{Stage: stage.Reviewer, Review: &stage.ReviewReport{
			Summary:       "looks good",
			Approved:      true,
			SecurityScore: 9,
		}}, nil
	}))
}

func newTestOrchestrator(t *testing.T, opts ...pipeline.Option) (*pipeline.Orchestrator, *stage.Registry, *memory.Store) {
	t.Helper()
	s := memory.New()
	log := event.NewLog(s, event.WithLogger(testLogger()))
	reg := stage.NewRegistry()
	base := []pipeline.Option{
		pipeline.WithConfig(testConfig()),
		pipeline.WithRepairBackoff(backoff.NewConstant(0)),
	}
	orch := pipeline.NewOrchestrator(reg, s, log, nil, testLogger(), append(base, opts...)...)
	return orch, reg, s
}

// waitForStatus polls the store until the run reaches the wanted status.
func waitForStatus(t *testing.T, s *memory.Store, runID id.RunID, want pipeline.Status) *pipeline.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := s.GetRun(context.Background(), runID)
		if err == nil && run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	run, err := s.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("timed out waiting for status %q: %v", want, err)
	}
	t.Fatalf("timed out waiting for status %q, last status %q (error: %q)", want, run.Status, run.Error)
	return nil
}

func eventStatuses(t *testing.T, s *memory.Store, runID id.RunID) []event.Status {
	t.Helper()
	recs, err := s.TailEvents(context.Background(), runID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	statuses := make([]event.Status, len(recs))
	for i, rec := range recs {
		statuses[i] = rec.Status
	}
	return statuses
}

// ──────────────────────────────────────────────────
// Happy path
// ──────────────────────────────────────────────────

func TestOrchestrator_AutoApproval_CompletesPipeline(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:         "build a todo service",
		ApprovalPolicy: pipeline.ApprovalAuto,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForStatus(t, s, run.ID, pipeline.StatusCompleted)

	if final.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if final.Artifacts.Requirements == nil || final.Artifacts.Architecture == nil ||
		final.Artifacts.Code == nil || final.Artifacts.Review == nil {
		t.Error("expected all four artifacts to be installed")
	}
	if got := len(final.FileList()); got != 2 {
		t.Errorf("FileList() = %d files, want 2", got)
	}
	if final.ReviewIterations != 1 {
		t.Errorf("ReviewIterations = %d, want 1", final.ReviewIterations)
	}
	if c.requirements.Load() != 1 || c.architecture.Load() != 1 ||
		c.implementer.Load() != 1 || c.reviewer.Load() != 1 {
		t.Errorf("executor counts = [%d %d %d %d], want all 1",
			c.requirements.Load(), c.architecture.Load(), c.implementer.Load(), c.reviewer.Load())
	}

	want := []event.Status{
		event.StatusStageStarted,
		event.StatusArtifactRequirements,
		event.StatusStageCompleted,
		event.StatusStageStarted,
		event.StatusArtifactArchitecture,
		event.StatusStageCompleted,
		event.StatusStageStarted,
		event.StatusArtifactFiles,
		event.StatusStageCompleted,
		event.StatusStageStarted,
		event.StatusStageCompleted,
		event.StatusReviewUpdate,
		event.StatusCompleted,
	}
	got := eventStatuses(t, s, run.ID)
	if len(got) != len(want) {
		t.Fatalf("event count = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOrchestrator_EventSeqStrictlyIncreasing(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusCompleted)

	recs, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	for i, rec := range recs {
		if rec.Seq != uint64(i+1) {
			t.Errorf("event[%d].Seq = %d, want %d", i, rec.Seq, i+1)
		}
	}
}

// ──────────────────────────────────────────────────
// Validation
// ──────────────────────────────────────────────────

func TestStart_EmptyPrompt(t *testing.T) {
	orch, reg, _ := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	_, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "   "})
	if !errors.Is(err, interius.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if c.requirements.Load() != 0 {
		t.Error("no stage should execute for invalid input")
	}
}

func TestStart_PromptTooLong(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPromptChars = 10
	orch, reg, _ := newTestOrchestrator(t, pipeline.WithConfig(cfg))
	var c counters
	registerHappyPath(reg, &c)

	_, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "this prompt is far too long"})
	if !errors.Is(err, interius.ErrPromptTooLong) {
		t.Errorf("expected ErrPromptTooLong, got %v", err)
	}
}

func TestStart_UnknownApprovalPolicy(t *testing.T) {
	orch, reg, _ := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	_, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:         "build it",
		ApprovalPolicy: "sometimes",
	})
	if !errors.Is(err, interius.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Human approval pause and resume
// ──────────────────────────────────────────────────

func TestOrchestrator_HumanApproval_PausesAtCheckpoint(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:         "build a todo service",
		ApprovalPolicy: pipeline.ApprovalHuman,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	paused := waitForStatus(t, s, run.ID, pipeline.StatusAwaitingApproval)

	if c.implementer.Load() != 0 {
		t.Error("implementer must not run before approval")
	}
	if paused.Artifacts.Requirements == nil || paused.Artifacts.Architecture == nil {
		t.Fatal("expected requirements and architecture artifacts before pause")
	}

	cp, err := s.LoadCheckpoint(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp.Status != pipeline.CheckpointPending {
		t.Errorf("checkpoint status = %q, want %q", cp.Status, pipeline.CheckpointPending)
	}
	if cp.Artifacts.Requirements.Summary != paused.Artifacts.Requirements.Summary {
		t.Error("checkpoint charter does not match the paused run")
	}
	if cp.Artifacts.Architecture.DesignDocument != paused.Artifacts.Architecture.DesignDocument {
		t.Error("checkpoint architecture does not match the paused run")
	}

	// The last event must carry both approval artifacts.
	recs, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	last := recs[len(recs)-1]
	if last.Status != event.StatusAwaitingApproval {
		t.Fatalf("last event = %q, want %q", last.Status, event.StatusAwaitingApproval)
	}
	if last.RequirementsArtifact == nil || last.ArchitectureArtifact == nil {
		t.Error("awaiting_approval event must carry both artifacts")
	}
}

func TestOrchestrator_Resume_CompletesWithEdits(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	var gotEdits []string
	var gotArch atomic.Pointer[stage.ArchitectureDoc]
	reg.Register(stage.Implementer, stage.ExecutorFunc(func(_ context.Context, req *stage.Request) (*stage.Artifact, error) {
		c.implementer.Add(1)
		gotEdits = append([]string(nil), req.EditInstructions...)
		gotArch.Store(req.Artifacts.Architecture)
		return &stage.Artifact{Stage: stage.Implementer, Code: testCode()}, nil
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:         "build a todo service",
		ApprovalPolicy: pipeline.ApprovalHuman,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusAwaitingApproval)

	edited := testArchitecture()
	edited.DesignDocument = "# Design v2\n\nWith soft deletes."
	err = orch.Resume(context.Background(), run.ID, pipeline.ResumeOptions{
		EditInstructions:     []string{"add soft deletes"},
		ApprovedArchitecture: edited,
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	final := waitForStatus(t, s, run.ID, pipeline.StatusCompleted)

	if len(gotEdits) != 1 || gotEdits[0] != "add soft deletes" {
		t.Errorf("implementer edit instructions = %v, want [add soft deletes]", gotEdits)
	}
	if arch := gotArch.Load(); arch == nil || arch.DesignDocument != edited.DesignDocument {
		t.Error("implementer must see the approved architecture override")
	}
	if final.Artifacts.Architecture.DesignDocument != edited.DesignDocument {
		t.Error("run must carry the approved architecture as the new version")
	}
	// Requirements and architecture never re-execute on resume.
	if c.requirements.Load() != 1 || c.architecture.Load() != 1 {
		t.Errorf("early stages re-ran: requirements=%d architecture=%d",
			c.requirements.Load(), c.architecture.Load())
	}
}

func TestOrchestrator_ConcurrentResume_SingleWinner(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:         "build a todo service",
		ApprovalPolicy: pipeline.ApprovalHuman,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusAwaitingApproval)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, losses int
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := orch.Resume(context.Background(), run.ID, pipeline.ResumeOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, interius.ErrCheckpointNotFound) {
				losses++
			} else {
				t.Errorf("unexpected resume error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != callers-1 {
		t.Errorf("losses = %d, want %d", losses, callers-1)
	}

	waitForStatus(t, s, run.ID, pipeline.StatusCompleted)
	if got := c.implementer.Load(); got != 1 {
		t.Errorf("implementer executions = %d, want 1", got)
	}
}

func TestOrchestrator_Resume_RunNotFound(t *testing.T) {
	orch, reg, _ := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	err := orch.Resume(context.Background(), id.NewRunID(), pipeline.ResumeOptions{})
	if !errors.Is(err, interius.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestOrchestrator_Resume_NotPaused(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	// A running run that never paused has no checkpoint to consume.
	run := &pipeline.Run{
		Entity:         interius.NewEntity(),
		ID:             id.NewRunID(),
		Prompt:         "build it",
		ApprovalPolicy: pipeline.ApprovalAuto,
		Status:         pipeline.StatusRunning,
		Stage:          stage.Requirements,
		StartedAt:      time.Now().UTC(),
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	err := orch.Resume(context.Background(), run.ID, pipeline.ResumeOptions{})
	if !errors.Is(err, interius.ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound, got %v", err)
	}

	// Run state untouched.
	got, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != pipeline.StatusRunning || got.Stage != stage.Requirements {
		t.Errorf("run state changed: status=%q stage=%q", got.Status, got.Stage)
	}
}

func TestOrchestrator_Resume_TerminalRun(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusCompleted)

	if err := orch.Resume(context.Background(), run.ID, pipeline.ResumeOptions{}); !errors.Is(err, interius.ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound for terminal run, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func TestOrchestrator_Cancel_AtStageBoundary(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	entered := make(chan struct{})
	release := make(chan struct{})
	reg.Register(stage.Implementer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.implementer.Add(1)
		close(entered)
		<-release
		return &stage.Artifact{Stage: stage.Implementer, Code: testCode()}, nil
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-entered
	if err := orch.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	final := waitForStatus(t, s, run.ID, pipeline.StatusCancelled)

	// The in-flight stage finished; its output is preserved.
	if got := len(final.FileList()); got != 2 {
		t.Errorf("FileList() = %d files, want 2 (partial results preserved)", got)
	}
	if c.reviewer.Load() != 0 {
		t.Error("reviewer must not run after cancellation")
	}

	// The terminal notification rides the error status.
	recs, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	last := recs[len(recs)-1]
	if last.Status != event.StatusError {
		t.Errorf("last event = %q, want %q", last.Status, event.StatusError)
	}
	if last.Message != "run cancelled" {
		t.Errorf("last event message = %q, want %q", last.Message, "run cancelled")
	}
}

func TestOrchestrator_Cancel_Idempotent(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusCompleted)

	before, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}

	// Cancelling a terminal run is a no-op, repeatedly.
	for i := 0; i < 3; i++ {
		if err := orch.Cancel(context.Background(), run.ID); err != nil {
			t.Fatalf("Cancel #%d: %v", i+1, err)
		}
	}

	got, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != pipeline.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, pipeline.StatusCompleted)
	}
	after, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("event count changed from %d to %d", len(before), len(after))
	}
}

func TestOrchestrator_Cancel_AwaitingApproval(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:         "build it",
		ApprovalPolicy: pipeline.ApprovalHuman,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusAwaitingApproval)

	if err := orch.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got := waitForStatus(t, s, run.ID, pipeline.StatusCancelled)
	if got.Status != pipeline.StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, pipeline.StatusCancelled)
	}

	// The checkpoint is claimed; a later resume cannot revive the run.
	if err := orch.Resume(context.Background(), run.ID, pipeline.ResumeOptions{}); !errors.Is(err, interius.ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound after cancel, got %v", err)
	}
	if c.implementer.Load() != 0 {
		t.Error("implementer must not run for a cancelled run")
	}
}

func TestOrchestrator_Cancel_DuringArchitecture_WinsOverPause(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	entered := make(chan struct{})
	release := make(chan struct{})
	reg.Register(stage.Architecture, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.architecture.Add(1)
		close(entered)
		<-release
		return &stage.Artifact{Stage: stage.Architecture, Architecture: testArchitecture()}, nil
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:         "build it",
		ApprovalPolicy: pipeline.ApprovalHuman,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Cancel while the architecture stage is in flight: the run must reach
	// CANCELLED at the post-architecture boundary, not park at the
	// approval pause.
	<-entered
	if err := orch.Cancel(context.Background(), run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	got := waitForStatus(t, s, run.ID, pipeline.StatusCancelled)
	if got.Status != pipeline.StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, pipeline.StatusCancelled)
	}

	if err := orch.Resume(context.Background(), run.ID, pipeline.ResumeOptions{}); !errors.Is(err, interius.ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound after cancel, got %v", err)
	}
	if c.implementer.Load() != 0 {
		t.Error("implementer must not run for a cancelled run")
	}

	// The run never became visible as awaiting approval.
	recs, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	for _, rec := range recs {
		if rec.Status == event.StatusAwaitingApproval {
			t.Error("awaiting_approval event emitted for a run cancelled mid-architecture")
		}
	}
}

func TestOrchestrator_Resume_HonorsPersistedCancelRequest(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:         "build it",
		ApprovalPolicy: pipeline.ApprovalHuman,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusAwaitingApproval)

	// A cancel that raced the pause leaves only the durable flag behind.
	paused, err := s.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	paused.CancelRequested = true
	if err := s.UpdateRun(context.Background(), paused); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	if err := orch.Resume(context.Background(), run.ID, pipeline.ResumeOptions{}); !errors.Is(err, interius.ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound for cancel-requested run, got %v", err)
	}

	got := waitForStatus(t, s, run.ID, pipeline.StatusCancelled)
	if got.Status != pipeline.StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, pipeline.StatusCancelled)
	}
	if c.implementer.Load() != 0 {
		t.Error("implementer must not run for a cancel-requested run")
	}
}

// ──────────────────────────────────────────────────
// Failures and timeouts
// ──────────────────────────────────────────────────

func TestOrchestrator_ExecutorError_FailsRun(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	reg.Register(stage.Architecture, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.architecture.Add(1)
		return nil, errors.New("model unavailable")
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForStatus(t, s, run.ID, pipeline.StatusFailed)
	if final.Error == "" {
		t.Error("expected run error to be recorded")
	}
	if c.implementer.Load() != 0 {
		t.Error("implementer must not run after a stage failure")
	}

	recs, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	last := recs[len(recs)-1]
	if last.Status != event.StatusError {
		t.Errorf("last event = %q, want %q", last.Status, event.StatusError)
	}
	if last.Message == "" {
		t.Error("error event must carry a message")
	}
}

func TestOrchestrator_StageTimeout_FailsRun(t *testing.T) {
	cfg := testConfig()
	cfg.StageTimeout = 30 * time.Millisecond
	orch, reg, s := newTestOrchestrator(t, pipeline.WithConfig(cfg))
	var c counters
	registerHappyPath(reg, &c)

	reg.Register(stage.Architecture, stage.ExecutorFunc(func(ctx context.Context, _ *stage.Request) (*stage.Artifact, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &stage.Artifact{Stage: stage.Architecture, Architecture: testArchitecture()}, nil
		}
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForStatus(t, s, run.ID, pipeline.StatusFailed)
	if final.Error == "" {
		t.Fatal("expected a timeout error on the run")
	}
	if c.implementer.Load() != 0 {
		t.Error("no later stage may run after a timeout")
	}
}

func TestOrchestrator_ExecutorPanic_FailsRun(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	reg.Register(stage.Requirements, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		panic("unexpected nil")
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForStatus(t, s, run.ID, pipeline.StatusFailed)
	if final.Error == "" {
		t.Error("expected panic to surface as a run error")
	}
}

func TestOrchestrator_WrongStageArtifact_FailsRun(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	reg.Register(stage.Requirements, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		return &stage.Artifact{Stage: stage.Architecture, Architecture: testArchitecture()}, nil
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusFailed)
}

// ──────────────────────────────────────────────────
// Review loop
// ──────────────────────────────────────────────────

func TestOrchestrator_ReviewLoop_RevisionThenPass(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	reg.Register(stage.Reviewer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		n := c.reviewer.Add(1)
		if n == 1 {
			return &stage.Artifact{Stage: stage.Reviewer, Review: &stage.ReviewReport{
				Summary:       "found problems",
				Issues:        []string{"missing input validation"},
				SecurityScore: 3,
				AffectedFiles: []string{"main.py"},
			}}, nil
		}
		return &stage.Artifact{Stage: stage.Reviewer, Review: &stage.ReviewReport{
			Summary:       "issues resolved",
			Approved:      true,
			SecurityScore: 9,
		}}, nil
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForStatus(t, s, run.ID, pipeline.StatusCompleted)
	if final.ReviewIterations != 2 {
		t.Errorf("ReviewIterations = %d, want 2", final.ReviewIterations)
	}
	if got := c.implementer.Load(); got != 2 {
		t.Errorf("implementer executions = %d, want 2 (initial + repair)", got)
	}

	recs, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	var kinds []string
	for _, rec := range recs {
		if rec.Status == event.StatusReviewUpdate {
			kinds = append(kinds, rec.Kind)
		}
	}
	if len(kinds) != 2 || kinds[0] != "revision" || kinds[1] != "pass" {
		t.Errorf("review update kinds = %v, want [revision pass]", kinds)
	}
}

func TestOrchestrator_ReviewLoop_CeilingCompletesWithKnownIssues(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReviewIterations = 2
	orch, reg, s := newTestOrchestrator(t, pipeline.WithConfig(cfg))
	var c counters
	registerHappyPath(reg, &c)

	reg.Register(stage.Reviewer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.reviewer.Add(1)
		return &stage.Artifact{Stage: stage.Reviewer, Review: &stage.ReviewReport{
			Summary:       "still broken",
			Issues:        []string{"sql injection in list endpoint"},
			SecurityScore: 2,
		}}, nil
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The ceiling completes the run; it never fails it.
	final := waitForStatus(t, s, run.ID, pipeline.StatusCompleted)
	if final.ReviewIterations != 2 {
		t.Errorf("ReviewIterations = %d, want 2", final.ReviewIterations)
	}
	if got := c.reviewer.Load(); got != 2 {
		t.Errorf("reviewer executions = %d, want 2", got)
	}

	recs, err := s.TailEvents(context.Background(), run.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	var kinds []string
	var completedSummary string
	for _, rec := range recs {
		switch rec.Status {
		case event.StatusReviewUpdate:
			kinds = append(kinds, rec.Kind)
		case event.StatusCompleted:
			completedSummary = rec.Summary
		}
	}
	if len(kinds) != 2 || kinds[0] != "revision" || kinds[1] != "unresolved" {
		t.Errorf("review update kinds = %v, want [revision unresolved]", kinds)
	}
	if completedSummary != "completed with known issues" {
		t.Errorf("completed summary = %q, want %q", completedSummary, "completed with known issues")
	}
}

func TestOrchestrator_ReviewLoop_TrustThresholdPasses(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	// Not explicitly approved, but the score clears the trust threshold.
	reg.Register(stage.Reviewer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		c.reviewer.Add(1)
		return &stage.Artifact{Stage: stage.Reviewer, Review: &stage.ReviewReport{
			Summary:       "minor nits only",
			SecurityScore: 8,
		}}, nil
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForStatus(t, s, run.ID, pipeline.StatusCompleted)
	if final.ReviewIterations != 1 {
		t.Errorf("ReviewIterations = %d, want 1", final.ReviewIterations)
	}
	if got := c.implementer.Load(); got != 1 {
		t.Errorf("implementer executions = %d, want 1", got)
	}
}

func TestOrchestrator_ReviewerHardError_FailsRun(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	reg.Register(stage.Reviewer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		return nil, errors.New("reviewer backend down")
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusFailed)
}

func TestOrchestrator_RepairPass_MergesFilesWithTombstones(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	reg.Register(stage.Implementer, stage.ExecutorFunc(func(_ context.Context, req *stage.Request) (*stage.Artifact, error) {
		n := c.implementer.Add(1)
		if n == 1 {
			return &stage.Artifact{Stage: stage.Implementer, Code: &stage.GeneratedCode{
				Files: []stage.CodeFile{
					{Path: "main.py", Content: "v1"},
					{Path: "legacy.py", Content: "old"},
				},
			}}, nil
		}
		// Repair touches one file and tombstones another; untouched files
		// must survive the merge.
		return &stage.Artifact{Stage: stage.Implementer, Code: &stage.GeneratedCode{
			Files: []stage.CodeFile{
				{Path: "main.py", Content: "v2"},
				{Path: "legacy.py", Deleted: true},
				{Path: "security.py", Content: "new"},
			},
		}}, nil
	}))
	reg.Register(stage.Reviewer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
		n := c.reviewer.Add(1)
		if n == 1 {
			return &stage.Artifact{Stage: stage.Reviewer, Review: &stage.ReviewReport{
				Issues:        []string{"drop legacy module"},
				SecurityScore: 4,
			}}, nil
		}
		return &stage.Artifact{Stage: stage.Reviewer, Review: &stage.ReviewReport{
			Approved:      true,
			SecurityScore: 9,
		}}, nil
	}))

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForStatus(t, s, run.ID, pipeline.StatusCompleted)

	files := final.FileList()
	byPath := make(map[string]stage.CodeFile, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	if len(files) != 2 {
		t.Fatalf("FileList() = %d files, want 2: %v", len(files), byPath)
	}
	if byPath["main.py"].Content != "v2" {
		t.Errorf("main.py content = %q, want %q", byPath["main.py"].Content, "v2")
	}
	if _, ok := byPath["security.py"]; !ok {
		t.Error("expected security.py in merged file set")
	}
	if _, ok := byPath["legacy.py"]; ok {
		t.Error("legacy.py must be tombstoned out of the file list")
	}
}

// ──────────────────────────────────────────────────
// Forking
// ──────────────────────────────────────────────────

func TestStart_ForksFromCompletedPrior(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	prior, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start prior: %v", err)
	}
	waitForStatus(t, s, prior.ID, pipeline.StatusCompleted)

	priorEvents, err := s.TailEvents(context.Background(), prior.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}

	fork, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:     "add tags to todos",
		PriorRunID: prior.ID,
	})
	if err != nil {
		t.Fatalf("Start fork: %v", err)
	}
	waitForStatus(t, s, fork.ID, pipeline.StatusCompleted)

	if fork.ID == prior.ID {
		t.Fatal("fork must have a fresh run identity")
	}
	if fork.ForkedFrom != prior.ID {
		t.Errorf("ForkedFrom = %v, want %v", fork.ForkedFrom, prior.ID)
	}

	// The prior run's history is untouched.
	after, err := s.TailEvents(context.Background(), prior.ID, 0, 0)
	if err != nil {
		t.Fatalf("TailEvents: %v", err)
	}
	if len(after) != len(priorEvents) {
		t.Errorf("prior run event count changed from %d to %d", len(priorEvents), len(after))
	}
	priorRun, err := s.GetRun(context.Background(), prior.ID)
	if err != nil {
		t.Fatalf("GetRun prior: %v", err)
	}
	if priorRun.Status != pipeline.StatusCompleted {
		t.Errorf("prior status = %q, want %q", priorRun.Status, pipeline.StatusCompleted)
	}
}

func TestStart_NoForkFromFailedPrior(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	prior := &pipeline.Run{
		Entity:         interius.NewEntity(),
		ID:             id.NewRunID(),
		Prompt:         "build it",
		ApprovalPolicy: pipeline.ApprovalAuto,
		Status:         pipeline.StatusFailed,
		Stage:          stage.Architecture,
		StartedAt:      time.Now().UTC(),
	}
	if err := s.CreateRun(context.Background(), prior); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	run, err := orch.Start(context.Background(), pipeline.StartRequest{
		Prompt:     "build it again",
		PriorRunID: prior.ID,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !run.ForkedFrom.IsNil() {
		t.Errorf("ForkedFrom = %v, want nil for non-completed prior", run.ForkedFrom)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusCompleted)
}

// ──────────────────────────────────────────────────
// Admission
// ──────────────────────────────────────────────────

type fakeGate struct {
	allow    bool
	acquires atomic.Int32
	releases atomic.Int32
}

func (g *fakeGate) Acquire() bool {
	if !g.allow {
		return false
	}
	g.acquires.Add(1)
	return true
}

func (g *fakeGate) Release() { g.releases.Add(1) }

func TestStart_GateRejects(t *testing.T) {
	gate := &fakeGate{allow: false}
	orch, reg, _ := newTestOrchestrator(t, pipeline.WithGate(gate))
	var c counters
	registerHappyPath(reg, &c)

	_, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if !errors.Is(err, interius.ErrTooManyRuns) {
		t.Errorf("expected ErrTooManyRuns, got %v", err)
	}
}

func TestStart_GateBalanced(t *testing.T) {
	gate := &fakeGate{allow: true}
	orch, reg, s := newTestOrchestrator(t, pipeline.WithGate(gate))
	var c counters
	registerHappyPath(reg, &c)

	run, err := orch.Start(context.Background(), pipeline.StartRequest{Prompt: "build it"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusCompleted)
	if err := orch.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if gate.acquires.Load() != gate.releases.Load() {
		t.Errorf("acquires = %d, releases = %d, want balanced",
			gate.acquires.Load(), gate.releases.Load())
	}
}

// ──────────────────────────────────────────────────
// Crash recovery
// ──────────────────────────────────────────────────

func TestRecoverAll_ContinuesFromFirstMissingStage(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	// A run that crashed after producing the charter.
	run := &pipeline.Run{
		Entity:         interius.NewEntity(),
		ID:             id.NewRunID(),
		Prompt:         "build it",
		ApprovalPolicy: pipeline.ApprovalAuto,
		Status:         pipeline.StatusRunning,
		Stage:          stage.Architecture,
		Artifacts:      stage.ArtifactSet{Requirements: testCharter()},
		StartedAt:      time.Now().UTC(),
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := orch.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}

	waitForStatus(t, s, run.ID, pipeline.StatusCompleted)
	if c.requirements.Load() != 0 {
		t.Error("requirements must not re-execute on recovery")
	}
	if c.architecture.Load() != 1 || c.implementer.Load() != 1 || c.reviewer.Load() != 1 {
		t.Errorf("executor counts = [arch=%d impl=%d rev=%d], want all 1",
			c.architecture.Load(), c.implementer.Load(), c.reviewer.Load())
	}
}

func TestRecoverAll_PendingCheckpointStaysPaused(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	// Crashed between the checkpoint save and the status flip.
	run := &pipeline.Run{
		Entity:         interius.NewEntity(),
		ID:             id.NewRunID(),
		Prompt:         "build it",
		ApprovalPolicy: pipeline.ApprovalHuman,
		Status:         pipeline.StatusRunning,
		Stage:          stage.Architecture,
		Artifacts: stage.ArtifactSet{
			Requirements: testCharter(),
			Architecture: testArchitecture(),
		},
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.SaveCheckpoint(context.Background(), pipeline.NewCheckpoint(run)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	if err := orch.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}

	got := waitForStatus(t, s, run.ID, pipeline.StatusAwaitingApproval)
	if got.Status != pipeline.StatusAwaitingApproval {
		t.Fatalf("status = %q, want %q", got.Status, pipeline.StatusAwaitingApproval)
	}
	if c.implementer.Load() != 0 {
		t.Error("implementer must not run while the run awaits approval")
	}

	// The run resumes normally afterwards.
	if err := orch.Resume(context.Background(), run.ID, pipeline.ResumeOptions{}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForStatus(t, s, run.ID, pipeline.StatusCompleted)
}

func TestRecoverAll_RePausesWhenCheckpointMissing(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	// Crashed after the architecture artifact, before the checkpoint save.
	run := &pipeline.Run{
		Entity:         interius.NewEntity(),
		ID:             id.NewRunID(),
		Prompt:         "build it",
		ApprovalPolicy: pipeline.ApprovalHuman,
		Status:         pipeline.StatusRunning,
		Stage:          stage.Architecture,
		Artifacts: stage.ArtifactSet{
			Requirements: testCharter(),
			Architecture: testArchitecture(),
		},
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := orch.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}

	waitForStatus(t, s, run.ID, pipeline.StatusAwaitingApproval)
	cp, err := s.LoadCheckpoint(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp.Status != pipeline.CheckpointPending {
		t.Errorf("checkpoint status = %q, want %q", cp.Status, pipeline.CheckpointPending)
	}
}

func TestRecoverAll_HonorsPersistedCancelRequest(t *testing.T) {
	orch, reg, s := newTestOrchestrator(t)
	var c counters
	registerHappyPath(reg, &c)

	run := &pipeline.Run{
		Entity:          interius.NewEntity(),
		ID:              id.NewRunID(),
		Prompt:          "build it",
		ApprovalPolicy:  pipeline.ApprovalAuto,
		Status:          pipeline.StatusRunning,
		Stage:           stage.Implementer,
		Artifacts:       stage.ArtifactSet{Requirements: testCharter(), Architecture: testArchitecture()},
		CancelRequested: true,
		StartedAt:       time.Now().UTC(),
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := orch.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll: %v", err)
	}

	waitForStatus(t, s, run.ID, pipeline.StatusCancelled)
	if c.implementer.Load() != 0 {
		t.Error("cancelled run must not execute any stage")
	}
}
