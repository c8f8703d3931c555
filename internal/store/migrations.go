package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all blaze tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS executions (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id        INTEGER NOT NULL,
		app_id         TEXT NOT NULL,
		platform       TEXT NOT NULL,
		estimated_ns   INTEGER NOT NULL,
		real_ns        INTEGER NOT NULL,
		delta_delay_ns INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		error          TEXT NOT NULL DEFAULT '',
		completed_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_app_id ON executions(app_id)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_completed_at ON executions(completed_at)`,

	`CREATE TABLE IF NOT EXISTS delay_models (
		platform   TEXT PRIMARY KEY,
		delta_ns   INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`,
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
		table:    "executions",
		column:   "outputs",
		alterSQL: "ALTER TABLE executions ADD COLUMN outputs INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "delay_models",
		column:   "samples",
		alterSQL: "ALTER TABLE delay_models ADD COLUMN samples INTEGER NOT NULL DEFAULT 0",
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
			return nil // Column already exists
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
