// Package bunstore implements store.Store using the Bun ORM with PostgreSQL
// dialect. Suitable for teams already running Bun elsewhere in their stack:
// it shares the interius_* schema with the pgx backend, so the two are
// interchangeable against the same database.
//
// The caller owns the *bun.DB lifecycle — bunstore never closes it. Pass the
// db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/eb-adutwum/Interius/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
