// Package sqlite implements store.Store on SQLite via mattn/go-sqlite3.
// Suitable for embedded/edge deployments, CLI tools, and standalone
// applications where a single-file database is enough.
//
//	store, _ := sqlite.Open("interius.db")
//	store.Migrate(ctx)
//	defer store.Close()
package sqlite
