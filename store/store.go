// Package store defines the aggregate persistence interface. Each subsystem
// (pipeline, event) defines its own store interface. The composite Store
// composes them all. Backends: Postgres, Bun, SQLite, Redis, Mongo, and
// Memory.
package store

import (
	"context"

	"github.com/eb-adutwum/Interius/event"
	"github.com/eb-adutwum/Interius/pipeline"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface. A single backend
// (postgres, bun, sqlite, etc.) implements all of them.
type Store interface {
	pipeline.Store
	event.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
