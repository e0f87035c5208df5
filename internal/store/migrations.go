package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all trace tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		workload    TEXT NOT NULL,
		big_stride  INTEGER NOT NULL,
		state       TEXT NOT NULL DEFAULT 'RUNNING',
		reason      TEXT NOT NULL DEFAULT '',
		dispatches  INTEGER NOT NULL DEFAULT 0,
		mismatches  INTEGER NOT NULL DEFAULT 0,
		started_at  TEXT NOT NULL,
		finished_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS run_tasks (
		run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		pid       INTEGER NOT NULL,
		parent    INTEGER NOT NULL DEFAULT -1,
		name      TEXT NOT NULL,
		priority  INTEGER NOT NULL,
		exit_code INTEGER,
		exited_at TEXT,
		PRIMARY KEY (run_id, pid)
	)`,

	// Strides are uint64 stored bit-for-bit in SQLite's signed INTEGER.
	`CREATE TABLE IF NOT EXISTS dispatches (
		run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq           INTEGER NOT NULL,
		pid           INTEGER NOT NULL,
		priority      INTEGER NOT NULL,
		stride_before INTEGER NOT NULL,
		stride_after  INTEGER NOT NULL,
		token         INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_dispatches_run_pid ON dispatches(run_id, pid)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "runs",
		column:   "policy",
		alterSQL: "ALTER TABLE runs ADD COLUMN policy TEXT NOT NULL DEFAULT 'stride'",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_runs_policy ON runs(policy)",
	},
	{
		table:    "runs",
		column:   "syscalls",
		alterSQL: "ALTER TABLE runs ADD COLUMN syscalls TEXT NOT NULL DEFAULT '{}'",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}
	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
