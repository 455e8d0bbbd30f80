package sqlite

// migration is one named schema change, applied once in slice order.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_create_runs",
		sql: `
			CREATE TABLE IF NOT EXISTS interius_runs (
				id                TEXT PRIMARY KEY,
				forked_from       TEXT,
				prompt            TEXT NOT NULL,
				context           TEXT,
				approval_policy   TEXT NOT NULL DEFAULT 'human',
				status            TEXT NOT NULL DEFAULT 'running',
				stage             TEXT NOT NULL,
				artifacts         TEXT,
				files             TEXT,
				dependencies      TEXT,
				edit_instructions TEXT,
				timings           TEXT,
				review_iterations INTEGER NOT NULL DEFAULT 0,
				error             TEXT,
				cancel_requested  INTEGER NOT NULL DEFAULT 0,
				started_at        TIMESTAMP NOT NULL,
				completed_at      TIMESTAMP,
				created_at        TIMESTAMP NOT NULL,
				updated_at        TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_interius_runs_status
				ON interius_runs (status);
			CREATE INDEX IF NOT EXISTS idx_interius_runs_sweep
				ON interius_runs (status, completed_at);
		`,
	},
	{
		name: "002_create_checkpoints",
		sql: `
			CREATE TABLE IF NOT EXISTS interius_checkpoints (
				id          TEXT PRIMARY KEY,
				run_id      TEXT NOT NULL UNIQUE REFERENCES interius_runs(id) ON DELETE CASCADE,
				stage       TEXT NOT NULL,
				prompt      TEXT NOT NULL,
				artifacts   TEXT,
				status      TEXT NOT NULL DEFAULT 'pending',
				created_at  TIMESTAMP NOT NULL,
				consumed_at TIMESTAMP
			);
		`,
	},
	{
		name: "003_create_events",
		sql: `
			CREATE TABLE IF NOT EXISTS interius_events (
				id         TEXT PRIMARY KEY,
				run_id     TEXT NOT NULL,
				seq        INTEGER NOT NULL,
				status     TEXT NOT NULL,
				payload    TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				UNIQUE (run_id, seq)
			);
		`,
	},
}
