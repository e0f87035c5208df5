package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/strider/pkg/model"

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
	// One connection: an in-memory database exists per connection, and
	// SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
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

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339Nano)
	return &v
}

func parseTime(v *string) *time.Time {
	if v == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *v)
	if err != nil {
		return nil
	}
	return &t
}

// --- Runs ---

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.Run, dispatches []model.Dispatch) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID,
		"tasks", len(run.Tasks), "dispatches", len(dispatches))

	syscallsJSON, err := json.Marshal(run.Syscalls)
	if err != nil {
		return fmt.Errorf("marshal syscalls: %w", err)
	}
	policy := run.Policy
	if policy == "" {
		policy = "stride"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, workload, policy, big_stride, state, reason, dispatches, mismatches, syscalls, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workload, policy, int64(run.BigStride), string(run.State), run.Reason,
		run.Dispatches, run.Mismatches, string(syscallsJSON),
		run.StartedAt.UTC().Format(time.RFC3339Nano), formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	taskStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_tasks (run_id, pid, parent, name, priority, exit_code, exited_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare run_tasks: %w", err)
	}
	defer taskStmt.Close()
	for _, t := range run.Tasks {
		if _, err := taskStmt.ExecContext(ctx, run.ID, t.Pid, t.Parent, t.Name, t.Priority,
			t.ExitCode, formatTime(t.ExitedAt)); err != nil {
			return fmt.Errorf("insert task %d: %w", t.Pid, err)
		}
	}

	dispStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dispatches (run_id, seq, pid, priority, stride_before, stride_after, token)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare dispatches: %w", err)
	}
	defer dispStmt.Close()
	for _, d := range dispatches {
		if _, err := dispStmt.ExecContext(ctx, run.ID, d.Seq, d.Pid, d.Priority,
			int64(d.StrideBefore), int64(d.StrideAfter), int64(d.Token)); err != nil {
			return fmt.Errorf("insert dispatch %d: %w", d.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const runColumns = `id, workload, policy, big_stride, state, reason, dispatches, mismatches, syscalls, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var bigStride int64
	var state, syscallsJSON, startedAt string
	var finishedAt *string
	if err := row.Scan(&run.ID, &run.Workload, &run.Policy, &bigStride, &state, &run.Reason,
		&run.Dispatches, &run.Mismatches, &syscallsJSON, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.BigStride = uint64(bigStride)
	run.State = model.RunState(state)
	if err := json.Unmarshal([]byte(syscallsJSON), &run.Syscalls); err != nil {
		return nil, fmt.Errorf("unmarshal syscalls: %w", err)
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	run.FinishedAt = parseTime(finishedAt)
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tasks, err := s.listRunTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Tasks = tasks
	return run, nil
}

func (s *SQLiteStore) listRunTasks(ctx context.Context, runID string) ([]model.RunTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.pid, t.parent, t.name, t.priority, t.exit_code, t.exited_at,
		        (SELECT COUNT(*) FROM dispatches d WHERE d.run_id = t.run_id AND d.pid = t.pid)
		 FROM run_tasks t WHERE t.run_id = ? ORDER BY t.pid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.RunTask
	for rows.Next() {
		var t model.RunTask
		var exitedAt *string
		if err := rows.Scan(&t.Pid, &t.Parent, &t.Name, &t.Priority, &t.ExitCode, &exitedAt, &t.Dispatches); err != nil {
			return nil, err
		}
		t.ExitedAt = parseTime(exitedAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var countArgs []any
	if opts.State != "" {
		whereClauses = append(whereClauses, "state = ?")
		countArgs = append(countArgs, string(opts.State))
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + runColumns + ` FROM runs` + whereSQL + ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "runs", "id", id)
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// --- Dispatches ---

func (s *SQLiteStore) ListDispatches(ctx context.Context, runID string, opts model.ListOptions) ([]model.Dispatch, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "dispatches", "run_id", runID,
		"limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dispatches WHERE run_id = ?`, runID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, pid, priority, stride_before, stride_after, token
		 FROM dispatches WHERE run_id = ? ORDER BY seq LIMIT ? OFFSET ?`,
		runID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.Dispatch
	for rows.Next() {
		var d model.Dispatch
		var before, after, token int64
		if err := rows.Scan(&d.Seq, &d.Pid, &d.Priority, &before, &after, &token); err != nil {
			return nil, 0, err
		}
		d.StrideBefore, d.StrideAfter, d.Token = uint64(before), uint64(after), uint64(token)
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore) Shares(ctx context.Context, runID string) ([]model.Share, error) {
	s.logger.Debug("sql", "op", "shares", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT t.pid, t.name, t.priority, COUNT(d.seq)
		 FROM run_tasks t
		 LEFT JOIN dispatches d ON d.run_id = t.run_id AND d.pid = t.pid
		 WHERE t.run_id = ?
		 GROUP BY t.pid, t.name, t.priority
		 ORDER BY t.pid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []model.Share
	for rows.Next() {
		var sh model.Share
		if err := rows.Scan(&sh.Pid, &sh.Name, &sh.Priority, &sh.Dispatches); err != nil {
			return nil, err
		}
		shares = append(shares, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.ComputeShares(shares)
	return shares, nil
}
