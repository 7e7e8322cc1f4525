package postgres

// migrations are applied in order by Migrate. Statements are idempotent
// so re-running migration on startup is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS backlog_jobs (
		id               TEXT PRIMARY KEY,
		type             TEXT NOT NULL,
		payload          BYTEA NOT NULL,
		priority         INTEGER NOT NULL DEFAULT 50,
		status           TEXT NOT NULL DEFAULT 'queued',
		attempt          INTEGER NOT NULL DEFAULT 0,
		max_attempts     INTEGER NOT NULL DEFAULT 3,
		next_run_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		worker_id        TEXT NOT NULL DEFAULT '',
		lease_expires_at TIMESTAMPTZ,
		result           BYTEA,
		last_error       TEXT NOT NULL DEFAULT '',
		created_by       TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_backlog_jobs_claim
		ON backlog_jobs (priority DESC, next_run_at ASC)
		WHERE status IN ('queued', 'leased')`,

	`CREATE INDEX IF NOT EXISTS idx_backlog_jobs_type_status
		ON backlog_jobs (type, status)`,

	`CREATE INDEX IF NOT EXISTS idx_backlog_jobs_status_updated
		ON backlog_jobs (status, updated_at)`,
}
