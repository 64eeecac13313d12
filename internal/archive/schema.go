package archive

// The archive keeps two tables: runs carries the queryable columns plus
// the full state document, run_events denormalizes the audit log for
// per-agent queries. Statements run one at a time because lib/pq
// rejects multi-statement Exec.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id       TEXT PRIMARY KEY,
		task         TEXT NOT NULL,
		status       TEXT NOT NULL,
		retry_count  INTEGER NOT NULL DEFAULT 0,
		max_retries  INTEGER NOT NULL DEFAULT 0,
		final_output TEXT NOT NULL DEFAULT '',
		state        JSONB NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		id          TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		agent       TEXT NOT NULL,
		action      TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		UNIQUE (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events (run_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id       TEXT PRIMARY KEY,
		task         TEXT NOT NULL,
		status       TEXT NOT NULL,
		retry_count  INTEGER NOT NULL DEFAULT 0,
		max_retries  INTEGER NOT NULL DEFAULT 0,
		final_output TEXT NOT NULL DEFAULT '',
		state        TEXT NOT NULL,
		started_at   TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL,
		created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		id          TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		agent       TEXT NOT NULL,
		action      TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		UNIQUE (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events (run_id)`,
}

func schemaStatements(driver string) []string {
	if driver == "postgres" {
		return postgresSchema
	}
	return sqliteSchema
}
