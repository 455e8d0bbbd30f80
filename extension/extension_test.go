package extension_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	forgetesting "github.com/xraph/forge/testing"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/extension"
	"github.com/eb-adutwum/Interius/pipeline"
	"github.com/eb-adutwum/Interius/stage"
	"github.com/eb-adutwum/Interius/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// happyPathOptions returns extension options for an in-memory engine whose
// executors complete every stage with an approving review.
func happyPathOptions() []extension.ExtOption {
	return []extension.ExtOption{
		extension.WithStore(memory.New()),
		extension.WithLogger(testLogger()),
		extension.WithExecutor(stage.Requirements, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
			return &stage.Artifact{Stage: stage.Requirements, Charter: &stage.Charter{Summary: "a todo service"}}, nil
		})),
		extension.WithExecutor(stage.Architecture, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
			return &stage.Artifact{Stage: stage.Architecture, Architecture: &stage.ArchitectureDoc{DesignDocument: "# Design"}}, nil
		})),
		extension.WithExecutor(stage.Implementer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
			return &stage.Artifact{Stage: stage.Implementer, Code: &stage.GeneratedCode{
				Files: []stage.CodeFile{{Path: "main.py", Content: "app = FastAPI()"}},
			}}, nil
		})),
		extension.WithExecutor(stage.Reviewer, stage.ExecutorFunc(func(_ context.Context, _ *stage.Request) (*stage.Artifact, error) {
			return &stage.Artifact{Stage: stage.Reviewer, Review: &stage.ReviewReport{Approved: true}}, nil
		})),
	}
}

// ──────────────────────────────────────────────────
// Metadata
// ──────────────────────────────────────────────────

func TestExtension_Metadata(t *testing.T) {
	ext := extension.New()

	if ext.Name() != extension.ExtensionName {
		t.Errorf("Name() = %q, want %q", ext.Name(), extension.ExtensionName)
	}
	if ext.Description() != extension.ExtensionDescription {
		t.Errorf("Description() = %q, want %q", ext.Description(), extension.ExtensionDescription)
	}
	if ext.Version() != extension.ExtensionVersion {
		t.Errorf("Version() = %q, want %q", ext.Version(), extension.ExtensionVersion)
	}
	if deps := ext.Dependencies(); len(deps) != 0 {
		t.Errorf("Dependencies() = %v, want empty", deps)
	}
}

// ──────────────────────────────────────────────────
// Register → Engine + API initialized
// ──────────────────────────────────────────────────

func TestExtension_Register(t *testing.T) {
	ext := extension.New(happyPathOptions()...)

	fapp := forgetesting.NewTestApp("test-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if ext.Engine() == nil {
		t.Fatal("expected engine to be initialized after Register")
	}
	if ext.API() == nil {
		t.Fatal("expected API handler to be initialized after Register")
	}
	if ext.IWPServer() != nil {
		t.Fatal("expected no IWP server unless enabled")
	}
}

// ──────────────────────────────────────────────────
// Full lifecycle: Register → Start → Health → Stop
// ──────────────────────────────────────────────────

func TestExtension_Lifecycle(t *testing.T) {
	ext := extension.New(happyPathOptions()...)

	fapp := forgetesting.NewTestApp("lifecycle-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Start — runs migration, crash recovery and the sweeper.
	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Health should pass.
	if err := ext.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}

	// Stop gracefully.
	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Register + start a run via the engine
// ──────────────────────────────────────────────────

func TestExtension_RegisterAndStartRun(t *testing.T) {
	ext := extension.New(happyPathOptions()...)

	fapp := forgetesting.NewTestApp("run-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	eng := ext.Engine()
	run, err := eng.StartGeneration(ctx, pipeline.StartRequest{
		Prompt:         "build a todo service",
		ApprovalPolicy: pipeline.ApprovalAuto,
	})
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	if run.ID.IsNil() {
		t.Fatal("expected run to have an ID")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, getErr := eng.GetRun(ctx, run.ID)
		if getErr != nil {
			t.Fatalf("GetRun: %v", getErr)
		}
		if got.Status == pipeline.StatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for run to complete")
}

// ──────────────────────────────────────────────────
// Start before Register fails
// ──────────────────────────────────────────────────

func TestExtension_StartBeforeRegister(t *testing.T) {
	ext := extension.New()

	err := ext.Start(context.Background())
	if err == nil {
		t.Fatal("expected error when starting before Register")
	}
}

// ──────────────────────────────────────────────────
// Health before Register fails
// ──────────────────────────────────────────────────

func TestExtension_HealthBeforeRegister(t *testing.T) {
	ext := extension.New()

	err := ext.Health(context.Background())
	if err == nil {
		t.Fatal("expected error when checking health before Register")
	}
}

// ──────────────────────────────────────────────────
// Stop before Register is safe (no-op)
// ──────────────────────────────────────────────────

func TestExtension_StopBeforeRegister(t *testing.T) {
	ext := extension.New()

	err := ext.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop before Register should be no-op, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Register without store fails
// ──────────────────────────────────────────────────

func TestExtension_RegisterNoStore(t *testing.T) {
	ext := extension.New()
	fapp := forgetesting.NewTestApp("no-store-app", "0.1.0")

	err := ext.Register(fapp)
	if err == nil {
		t.Fatal("expected error when registering without a store")
	}
}

// ──────────────────────────────────────────────────
// DisableRoutes option
// ──────────────────────────────────────────────────

func TestExtension_DisableRoutes(t *testing.T) {
	opts := append(happyPathOptions(), extension.WithDisableRoutes())
	ext := extension.New(opts...)

	fapp := forgetesting.NewTestApp("no-routes-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Engine should be initialized even without routes.
	if ext.Engine() == nil {
		t.Fatal("expected engine even with DisableRoutes")
	}
}

// ──────────────────────────────────────────────────
// DisableMigrate option
// ──────────────────────────────────────────────────

func TestExtension_DisableMigrate(t *testing.T) {
	opts := append(happyPathOptions(), extension.WithDisableMigrate())
	ext := extension.New(opts...)

	fapp := forgetesting.NewTestApp("no-migrate-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ──────────────────────────────────────────────────
// WithConfig option
// ──────────────────────────────────────────────────

func TestExtension_WithConfig(t *testing.T) {
	opts := append(happyPathOptions(), extension.WithConfig(extension.Config{
		BasePath:       "/custom",
		DisableRoutes:  true,
		DisableMigrate: true,
		Interius:       interius.DefaultConfig(),
	}))
	ext := extension.New(opts...)

	fapp := forgetesting.NewTestApp("config-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if ext.Engine() == nil {
		t.Fatal("expected engine with custom config")
	}
}

// ──────────────────────────────────────────────────
// WithIWP option mounts the wire protocol server
// ──────────────────────────────────────────────────

func TestExtension_WithIWP(t *testing.T) {
	opts := append(happyPathOptions(), extension.WithIWP())
	ext := extension.New(opts...)

	fapp := forgetesting.NewTestApp("iwp-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if ext.IWPServer() == nil {
		t.Fatal("expected IWP server when enabled")
	}
}

// ──────────────────────────────────────────────────
// Handler returns working HTTP handler (standalone)
// ──────────────────────────────────────────────────

func TestExtension_Handler(t *testing.T) {
	opts := append(happyPathOptions(), extension.WithDisableRoutes()) // Disable auto-registration so Handler() can register.
	ext := extension.New(opts...)

	fapp := forgetesting.NewTestApp("handler-app", "0.1.0")

	if err := ext.Register(fapp); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h := ext.Handler()
	if h == nil {
		t.Fatal("expected non-nil handler")
	}
}

// ──────────────────────────────────────────────────
// Handler before Register returns NotFound
// ──────────────────────────────────────────────────

func TestExtension_HandlerBeforeRegister(t *testing.T) {
	ext := extension.New()

	h := ext.Handler()
	if h == nil {
		t.Fatal("expected non-nil handler even before Register (should be NotFoundHandler)")
	}
}
