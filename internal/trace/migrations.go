package trace

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all kernsim tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		scenario      TEXT NOT NULL,
		state         TEXT NOT NULL DEFAULT 'PENDING',
		mlfqs         INTEGER NOT NULL DEFAULT 0,
		timer_freq    INTEGER NOT NULL DEFAULT 100,
		ticks         INTEGER NOT NULL DEFAULT 0,
		switches      INTEGER NOT NULL DEFAULT 0,
		idle_ticks    INTEGER NOT NULL DEFAULT 0,
		kernel_ticks  INTEGER NOT NULL DEFAULT 0,
		thread_count  INTEGER NOT NULL DEFAULT 0,
		failed_checks INTEGER NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		completed_at  TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		run_id      TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		tick        INTEGER NOT NULL,
		type        TEXT NOT NULL,
		thread_id   INTEGER NOT NULL DEFAULT 0,
		thread_name TEXT NOT NULL DEFAULT '',
		detail      TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS thread_stats (
		run_id         TEXT NOT NULL,
		thread_id      INTEGER NOT NULL,
		name           TEXT NOT NULL,
		state          TEXT NOT NULL,
		base_priority  INTEGER NOT NULL,
		final_priority INTEGER NOT NULL,
		nice           INTEGER NOT NULL DEFAULT 0,
		cpu_ticks      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, thread_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_run_type ON events(run_id, type)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
