//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/id"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
	bunstore "github.com/eb-adutwum/Interius/store/bun"
)

// setupTestStore creates a Postgres container and returns a connected Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("interius_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	// Create Bun DB from pgdriver.
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db, bunstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func testRun() *pipeline.Run {
	return &pipeline.Run{
		Entity:         interius.NewEntity(),
		ID:             id.NewRunID(),
		Prompt:         "build a todo service with auth",
		ApprovalPolicy: pipeline.ApprovalHuman,
		Status:         pipeline.StatusRunning,
		Stage:          stage.Requirements,
		StartedAt:      time.Now().UTC(),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Run tests
// ──────────────────────────────────────────────────

func TestRunStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := testRun()
	run.Context = []string{"existing users table"}
	run.Artifacts.Requirements = &stage.Charter{
		Summary:  "todo service",
		Entities: []stage.Entity{{Name: "Todo", Fields: []stage.Field{{Name: "title", Type: "string"}}}},
	}

	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	// Duplicate should fail.
	if dupErr := s.CreateRun(ctx, run); !errors.Is(dupErr, interius.ErrRunAlreadyExists) {
		t.Fatalf("expected ErrRunAlreadyExists, got: %v", dupErr)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Prompt != run.Prompt {
		t.Fatalf("expected prompt %q, got %q", run.Prompt, got.Prompt)
	}
	if got.Status != pipeline.StatusRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}
	if got.Artifacts.Requirements == nil || got.Artifacts.Requirements.Summary != "todo service" {
		t.Fatalf("charter artifact not round-tripped: %+v", got.Artifacts.Requirements)
	}
	if len(got.Context) != 1 || got.Context[0] != "existing users table" {
		t.Fatalf("context not round-tripped: %v", got.Context)
	}
}

func TestRunStore_UpdateRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := testRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	run.Status = pipeline.StatusCompleted
	run.Stage = stage.Reviewer
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Files = map[string]stage.CodeFile{
		"app/main.py": {Path: "app/main.py", Content: "app = FastAPI()"},
	}
	run.ReviewIterations = 2

	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	if got.Files["app/main.py"].Content != "app = FastAPI()" {
		t.Fatalf("files not round-tripped: %+v", got.Files)
	}
	if got.ReviewIterations != 2 {
		t.Fatalf("expected 2 review iterations, got %d", got.ReviewIterations)
	}
}

func TestRunStore_UpdateMissingRun(t *testing.T) {
	s := setupTestStore(t)

	run := testRun()
	if err := s.UpdateRun(context.Background(), run); !errors.Is(err, interius.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got: %v", err)
	}
}

func TestRunStore_ListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	for i := 0; i < 3; i++ {
		run := testRun()
		run.Prompt = fmt.Sprintf("service %d", i)
		if i == 0 {
			run.Status = pipeline.StatusCompleted
			run.CompletedAt = &old
		}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("create run %d: %v", i, err)
		}
	}

	all, err := s.ListRuns(ctx, pipeline.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}

	running, err := s.ListRuns(ctx, pipeline.ListOpts{Status: pipeline.StatusRunning})
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(running) != 2 {
		t.Fatalf("expected 2 running, got %d", len(running))
	}

	expired, err := s.ListRuns(ctx, pipeline.ListOpts{
		Status:          pipeline.StatusCompleted,
		CompletedBefore: time.Now().UTC().Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired, got %d", len(expired))
	}
}

func TestRunStore_PurgeRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := testRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, pipeline.NewCheckpoint(run)); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	if err := s.PurgeRun(ctx, run.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}

	if _, err := s.GetRun(ctx, run.ID); !errors.Is(err, interius.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound after purge, got: %v", err)
	}
	// Checkpoint goes with the run via ON DELETE CASCADE.
	if _, err := s.LoadCheckpoint(ctx, run.ID); !errors.Is(err, interius.ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound after purge, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Checkpoint tests
// ──────────────────────────────────────────────────

func TestCheckpointStore_SaveAndLoad(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := testRun()
	run.Stage = stage.Architecture
	run.Artifacts.Architecture = &stage.ArchitectureDoc{DesignDocument: "# Design"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	cp := pipeline.NewCheckpoint(run)
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadCheckpoint(ctx, run.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != pipeline.CheckpointPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.Artifacts.Architecture == nil || got.Artifacts.Architecture.DesignDocument != "# Design" {
		t.Fatalf("artifacts not round-tripped: %+v", got.Artifacts)
	}
}

func TestCheckpointStore_ConsumeOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := testRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, pipeline.NewCheckpoint(run)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.ConsumeCheckpoint(ctx, run.ID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.Status != pipeline.CheckpointConsumed {
		t.Fatalf("expected consumed, got %s", got.Status)
	}
	if got.ConsumedAt == nil {
		t.Fatal("expected consumed_at to be set")
	}

	// Second consume loses.
	if _, err = s.ConsumeCheckpoint(ctx, run.ID); !errors.Is(err, interius.ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound on second consume, got: %v", err)
	}

	// Load still sees the consumed checkpoint.
	loaded, err := s.LoadCheckpoint(ctx, run.ID)
	if err != nil {
		t.Fatalf("load after consume: %v", err)
	}
	if loaded.Status != pipeline.CheckpointConsumed {
		t.Fatalf("expected consumed, got %s", loaded.Status)
	}
}

func TestCheckpointStore_SaveResetsConsumed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	run := testRun()
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, pipeline.NewCheckpoint(run)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.ConsumeCheckpoint(ctx, run.ID); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// A new save replaces the consumed checkpoint with a pending one.
	if err := s.SaveCheckpoint(ctx, pipeline.NewCheckpoint(run)); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	got, err := s.ConsumeCheckpoint(ctx, run.ID)
	if err != nil {
		t.Fatalf("consume after re-save: %v", err)
	}
	if got.Status != pipeline.CheckpointConsumed {
		t.Fatalf("expected consumed, got %s", got.Status)
	}
}

// ──────────────────────────────────────────────────
// Event log tests
// ──────────────────────────────────────────────────

func TestEventStore_AppendAndTail(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID := id.NewRunID()
	for i := 1; i <= 3; i++ {
		rec := event.NewStageStarted(runID, stage.Requirements)
		rec.Seq = uint64(i)
		if err := s.AppendEvent(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := s.TailEvents(ctx, runID, 0, 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	for i, rec := range all {
		if rec.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d at index %d, got %d", i+1, i, rec.Seq)
		}
	}

	since, err := s.TailEvents(ctx, runID, 1, 0)
	if err != nil {
		t.Fatalf("tail since 1: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("expected 2 after seq 1, got %d", len(since))
	}

	limited, err := s.TailEvents(ctx, runID, 0, 2)
	if err != nil {
		t.Fatalf("tail limit 2: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 with limit, got %d", len(limited))
	}
}

func TestEventStore_DuplicateSeqRejected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID := id.NewRunID()
	rec := event.NewStageStarted(runID, stage.Requirements)
	rec.Seq = 1
	if err := s.AppendEvent(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	dup := event.NewStageCompleted(runID, stage.Requirements)
	dup.Seq = 1
	if err := s.AppendEvent(ctx, dup); !errors.Is(err, interius.ErrEventAlreadyExists) {
		t.Fatalf("expected ErrEventAlreadyExists, got: %v", err)
	}
}

func TestEventStore_LatestSeq(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID := id.NewRunID()

	seq, err := s.LatestSeq(ctx, runID)
	if err != nil {
		t.Fatalf("latest seq empty: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected 0 for empty run, got %d", seq)
	}

	rec := event.NewStageStarted(runID, stage.Requirements)
	rec.Seq = 7
	if err = s.AppendEvent(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	seq, err = s.LatestSeq(ctx, runID)
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 7 {
		t.Fatalf("expected 7, got %d", seq)
	}
}

func TestEventStore_PurgeEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID := id.NewRunID()
	rec := event.NewStageStarted(runID, stage.Requirements)
	rec.Seq = 1
	if err := s.AppendEvent(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.PurgeEvents(ctx, runID); err != nil {
		t.Fatalf("purge: %v", err)
	}

	all, err := s.TailEvents(ctx, runID, 0, 0)
	if err != nil {
		t.Fatalf("tail after purge: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected 0 after purge, got %d", len(all))
	}
}
