// Package extension provides the Forge extension adapter for Interius.
//
// It implements the forge.Extension interface to integrate Interius
// into a Forge application with route registration and lifecycle
// management.
//
// Configuration can be provided programmatically via ExtOption functions
// or via YAML configuration files under "extensions.interius" or
// "interius" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"

	interius "github.com/eb-adutwum/Interius"
	"github.com/eb-adutwum/Interius/api"
	"github.com/eb-adutwum/Interius/engine"
	"github.com/eb-adutwum/Interius/iwp"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "interius"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Agent pipeline orchestrator that generates services from natural-language prompts"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Interius as a Forge extension. It implements the
// forge.Extension interface so Interius can be mounted into any Forge app.
type Extension struct {
	*forge.BaseExtension

	config     Config
	eng        *engine.Engine
	apiHandler *api.API
	iwpServer  *iwp.Server
	logger     *slog.Logger
	engOpts    []engine.Option
	iwpOpts    []iwp.Option
	enableIWP  bool
}

// New creates an Interius Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Interius engine.
// This is nil until Register is called.
func (e *Extension) Engine() *engine.Engine { return e.eng }

// API returns the API handler.
func (e *Extension) API() *api.API { return e.apiHandler }

// IWPServer returns the IWP server, or nil if IWP is not enabled.
func (e *Extension) IWPServer() *iwp.Server { return e.iwpServer }

// Register implements [forge.Extension]. It loads configuration, builds
// the engine, and optionally registers HTTP and IWP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	return e.init(fapp)
}

// init builds the engine, the API handler and the IWP server.
func (e *Extension) init(fapp forge.App) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := make([]engine.Option, 0, len(e.engOpts)+2)
	if e.config.Interius != (interius.Config{}) {
		opts = append(opts, engine.WithConfig(e.config.Interius))
	}
	opts = append(opts, e.engOpts...)
	opts = append(opts, engine.WithLogger(logger))

	eng, err := engine.New(opts...)
	if err != nil {
		return fmt.Errorf("interius: build engine: %w", err)
	}
	e.eng = eng

	// Create the API handler.
	e.apiHandler = api.New(e.eng, fapp.Router())

	// Register HTTP routes unless disabled.
	if !e.config.DisableRoutes {
		e.apiHandler.RegisterRoutes(fapp.Router())
	}

	// Create the IWP server if requested (via option or config).
	if e.enableIWP || e.config.EnableIWP {
		iwpOptList := make([]iwp.Option, 0, len(e.iwpOpts)+2)
		iwpOptList = append(iwpOptList, iwp.WithLogger(logger))
		if e.config.IWPBasePath != "" {
			iwpOptList = append(iwpOptList, iwp.WithPath(e.config.IWPBasePath))
		}
		iwpOptList = append(iwpOptList, e.iwpOpts...)

		handler := iwp.NewHandler(e.eng, e.eng.Broker(), logger)
		e.iwpServer = iwp.NewServer(e.eng.Broker(), handler, iwpOptList...)

		if !e.config.DisableRoutes {
			e.iwpServer.RegisterRoutes(fapp.Router())
		}
	}

	return nil
}

// Start runs auto-migration if enabled, then recovers interrupted runs
// and starts the retention sweeper.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("interius: extension not initialized")
	}

	// Run migrations unless disabled.
	if !e.config.DisableMigrate {
		if s := e.eng.Store(); s != nil {
			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("interius: migration failed: %w", err)
			}
		}
	}

	if err := e.eng.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop gracefully shuts down the Interius engine, waiting for live runs
// to checkpoint and exit.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		e.MarkStopped()
		return nil
	}
	err := e.eng.Close(ctx)
	e.MarkStopped()
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("interius: extension not initialized")
	}

	s := e.eng.Store()
	if s == nil {
		return errors.New("interius: no store configured")
	}

	return s.Ping(ctx)
}

// Handler returns the HTTP handler for all API routes.
// Convenience for standalone use outside Forge.
func (e *Extension) Handler() http.Handler {
	if e.apiHandler == nil {
		return http.NotFoundHandler()
	}
	return e.apiHandler.Handler()
}

// RegisterRoutes registers all Interius API routes into a Forge router.
func (e *Extension) RegisterRoutes(router forge.Router) {
	if e.apiHandler != nil {
		e.apiHandler.RegisterRoutes(router)
	}
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("interius: configuration is required but not found in config files; " +
				"ensure 'extensions.interius' or 'interius' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("interius: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("enable_iwp", e.config.EnableIWP),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.interius" first (namespaced pattern).
	if cm.IsSet("extensions.interius") {
		if err := cm.Bind("extensions.interius", &cfg); err == nil {
			e.Logger().Debug("interius: loaded config from file",
				forge.F("key", "extensions.interius"),
			)
			return cfg, true
		}
		e.Logger().Warn("interius: failed to bind extensions.interius config",
			forge.F("error", "bind failed"),
		)
	}

	// Try bare "interius" key.
	if cm.IsSet("interius") {
		if err := cm.Bind("interius", &cfg); err == nil {
			e.Logger().Debug("interius: loaded config from file",
				forge.F("key", "interius"),
			)
			return cfg, true
		}
		e.Logger().Warn("interius: failed to bind interius config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if programmaticConfig.EnableIWP {
		yamlConfig.EnableIWP = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.IWPBasePath == "" && programmaticConfig.IWPBasePath != "" {
		yamlConfig.IWPBasePath = programmaticConfig.IWPBasePath
	}
	if yamlConfig.Interius == (interius.Config{}) {
		yamlConfig.Interius = programmaticConfig.Interius
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
