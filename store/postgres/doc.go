// Package postgres provides a PostgreSQL store backend using pgx/v5.
package postgres
