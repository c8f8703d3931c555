package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/blaze/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Executions ---

func (s *SQLiteStore) RecordExecution(ctx context.Context, e *model.Execution) error {
	s.logger.Debug("sql", "op", "insert", "table", "executions", "task_id", e.TaskID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (task_id, app_id, platform, estimated_ns, real_ns, delta_delay_ns, outputs, status, error, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.AppID, e.Platform,
		int64(e.Estimated), int64(e.Real), int64(e.DeltaDelay), e.Outputs,
		e.Status.String(), e.Error, e.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert execution for task %d: %w", e.TaskID, err)
	}
	return nil
}

// ListExecutions returns the most recent executions first, plus the total
// number matching the filter.
func (s *SQLiteStore) ListExecutions(ctx context.Context, opts model.ListOptions) ([]*model.Execution, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "executions", "limit", opts.Limit, "app_id", opts.AppID)
	opts.Clamp()

	whereSQL := ""
	var args []any
	if opts.AppID != "" {
		whereSQL = " WHERE app_id = ?"
		args = append(args, opts.AppID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, app_id, platform, estimated_ns, real_ns, delta_delay_ns, outputs, status, error, completed_at
		 FROM executions`+whereSQL+` ORDER BY id DESC LIMIT ?`,
		append(args, opts.Limit)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*model.Execution
	for rows.Next() {
		var e model.Execution
		var est, elapsed, delta int64
		var status, completedAt string
		if err := rows.Scan(&e.TaskID, &e.AppID, &e.Platform, &est, &elapsed, &delta, &e.Outputs,
			&status, &e.Error, &completedAt); err != nil {
			return nil, 0, err
		}
		e.Estimated = time.Duration(est)
		e.Real = time.Duration(elapsed)
		e.DeltaDelay = time.Duration(delta)
		if e.Status, err = model.ParseTaskStatus(status); err != nil {
			return nil, 0, fmt.Errorf("execution of task %d: %w", e.TaskID, err)
		}
		if e.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
			return nil, 0, fmt.Errorf("execution of task %d: completed_at: %w", e.TaskID, err)
		}
		out = append(out, &e)
	}
	return out, total, rows.Err()
}

// --- Delay model ---

func (s *SQLiteStore) SaveDelayModel(ctx context.Context, platform string, delta time.Duration) error {
	s.logger.Debug("sql", "op", "upsert", "table", "delay_models", "platform", platform)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delay_models (platform, delta_ns, updated_at, samples) VALUES (?, ?, ?, 1)
		 ON CONFLICT(platform) DO UPDATE SET
		   delta_ns = excluded.delta_ns,
		   updated_at = excluded.updated_at,
		   samples = delay_models.samples + 1`,
		platform, int64(delta), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save delay model %s: %w", platform, err)
	}
	return nil
}

// LoadDelayModel returns the persisted correction for platform. ok is false
// when none was saved.
func (s *SQLiteStore) LoadDelayModel(ctx context.Context, platform string) (time.Duration, bool, error) {
	s.logger.Debug("sql", "op", "select", "table", "delay_models", "platform", platform)

	var delta int64
	err := s.db.QueryRowContext(ctx,
		`SELECT delta_ns FROM delay_models WHERE platform = ?`, platform,
	).Scan(&delta)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load delay model %s: %w", platform, err)
	}
	return time.Duration(delta), true, nil
}
