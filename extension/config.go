package extension

import interius "github.com/eb-adutwum/Interius"

// Config holds configuration for the Interius Forge extension.
type Config struct {
	// BasePath is the URL prefix for all Interius API routes.
	BasePath string `default:"/api/interius" json:"base_path"`

	// DisableRoutes disables the registration of HTTP routes.
	// Useful when embedding Interius for programmatic use only.
	DisableRoutes bool `default:"false" json:"disable_routes"`

	// DisableMigrate disables auto-migration on start.
	DisableMigrate bool `default:"false" json:"disable_migrate"`

	// RequireConfig makes Register fail when no YAML config is found
	// under "extensions.interius" or "interius".
	RequireConfig bool `default:"false" json:"require_config"`

	// EnableIWP enables the Interius Wire Protocol server (WebSocket,
	// SSE and HTTP-RPC transports).
	EnableIWP bool `default:"false" json:"enable_iwp"`

	// IWPBasePath overrides the IWP mount path (default "/iwp").
	IWPBasePath string `json:"iwp_base_path"`

	// Interius holds the core pipeline configuration.
	Interius interius.Config `json:"interius"`
}

// DefaultConfig returns the extension defaults.
func DefaultConfig() Config {
	return Config{
		BasePath: "/api/interius",
		Interius: interius.DefaultConfig(),
	}
}
