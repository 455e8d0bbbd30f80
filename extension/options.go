package extension

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/eb-adutwum/Interius/backoff"
	"github.com/eb-adutwum/Interius/engine"
	"github.com/eb-adutwum/Interius/ext"
	"github.com/eb-adutwum/Interius/iwp"
	mw "github.com/eb-adutwum/Interius/middleware"
	"github.com/eb-adutwum/Interius/stage"
	"github.com/eb-adutwum/Interius/store"
)

// ExtOption configures the Interius Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithStore(s))
	}
}

// WithExecutor binds an executor to a pipeline stage.
func WithExecutor(n stage.Name, exec stage.Executor) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithExecutor(n, exec))
	}
}

// WithExtension registers an Interius extension (lifecycle hooks).
func WithExtension(x ext.Extension) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithExtension(x))
	}
}

// WithMiddleware adds stage middleware to the engine.
func WithMiddleware(m mw.Middleware) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithMiddleware(m))
	}
}

// WithRepairBackoff sets the repair-loop backoff strategy.
func WithRepairBackoff(b backoff.Strategy) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithRepairBackoff(b))
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for stage spans.
func WithTracerProvider(tp trace.TracerProvider) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithTracerProvider(tp))
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for stage metrics.
func WithMeterProvider(mp metric.MeterProvider) ExtOption {
	return func(e *Extension) {
		e.engOpts = append(e.engOpts, engine.WithMeterProvider(mp))
	}
}

// WithBasePath sets the URL prefix for all Interius routes.
func WithBasePath(path string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = path
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) ExtOption {
	return func(e *Extension) {
		e.config.RequireConfig = require
	}
}

// WithLogger sets the structured logger for the engine.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithIWP enables the Interius Wire Protocol server with the given
// options (authenticator, codec, mount path).
func WithIWP(opts ...iwp.Option) ExtOption {
	return func(e *Extension) {
		e.enableIWP = true
		e.iwpOpts = append(e.iwpOpts, opts...)
	}
}
