package trace

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/kernsim/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
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
		logger: logger.With("component", "trace"),
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

// --- Run CRUD ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	var completedAt *string
	if run.CompletedAt != nil {
		v := run.CompletedAt.Format(time.RFC3339Nano)
		completedAt = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, scenario, state, mlfqs, timer_freq, ticks, switches,
		 idle_ticks, kernel_ticks, thread_count, failed_checks, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, string(run.State), boolToInt(run.MLFQS), run.TimerFreq,
		run.Ticks, run.Switches, run.IdleTicks, run.KernelTicks,
		run.ThreadCount, run.FailedChecks, run.Error,
		run.CreatedAt.Format(time.RFC3339Nano), completedAt,
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, scenario, state, mlfqs, timer_freq, ticks, switches,
		 idle_ticks, kernel_ticks, thread_count, failed_checks, error, created_at, completed_at
		 FROM runs WHERE id = ?`, id))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var args []any
	if opts.State != "" {
		whereClauses = append(whereClauses, "state = ?")
		args = append(args, opts.State)
	}
	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listArgs := append(args, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario, state, mlfqs, timer_freq, ticks, switches,
		 idle_ticks, kernel_ticks, thread_count, failed_checks, error, created_at, completed_at
		 FROM runs`+whereSQL+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID)

	var completedAt *string
	if run.CompletedAt != nil {
		v := run.CompletedAt.Format(time.RFC3339Nano)
		completedAt = &v
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state=?, ticks=?, switches=?, idle_ticks=?, kernel_ticks=?,
		 thread_count=?, failed_checks=?, error=?, completed_at=? WHERE id=?`,
		string(run.State), run.Ticks, run.Switches, run.IdleTicks, run.KernelTicks,
		run.ThreadCount, run.FailedChecks, run.Error, completedAt, run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// --- Event log ---

// AppendEvents inserts a batch of events in one transaction. Events
// carry their own run ID and sequence number.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert_batch", "table", "events", "count", len(events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, seq, tick, type, thread_id, thread_name, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.RunID, ev.Seq, ev.Tick, ev.Type, ev.ThreadID, ev.ThreadName, ev.Detail,
		); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]*model.Event, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "run_id", runID)
	opts.Clamp()

	whereSQL := " WHERE run_id = ?"
	args := []any{runID}
	if opts.Type != "" {
		whereSQL += " AND type = ?"
		args = append(args, opts.Type)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listArgs := append(args, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, tick, type, thread_id, thread_name, detail
		 FROM events`+whereSQL+` ORDER BY seq LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Tick, &ev.Type,
			&ev.ThreadID, &ev.ThreadName, &ev.Detail); err != nil {
			return nil, 0, err
		}
		events = append(events, &ev)
	}
	return events, total, rows.Err()
}

// --- Thread accounting ---

func (s *SQLiteStore) PutThreadStats(ctx context.Context, stats []model.ThreadStat) error {
	if len(stats) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert_batch", "table", "thread_stats", "count", len(stats))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO thread_stats
		 (run_id, thread_id, name, state, base_priority, final_priority, nice, cpu_ticks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx,
			st.RunID, st.ThreadID, st.Name, st.State,
			st.BasePriority, st.FinalPriority, st.Nice, st.CPUTicks,
		); err != nil {
			return fmt.Errorf("insert thread stat %s: %w", st.Name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListThreadStats(ctx context.Context, runID string) ([]*model.ThreadStat, error) {
	s.logger.Debug("sql", "op", "list", "table", "thread_stats", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, thread_id, name, state, base_priority, final_priority, nice, cpu_ticks
		 FROM thread_stats WHERE run_id = ? ORDER BY thread_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*model.ThreadStat
	for rows.Next() {
		var st model.ThreadStat
		if err := rows.Scan(&st.RunID, &st.ThreadID, &st.Name, &st.State,
			&st.BasePriority, &st.FinalPriority, &st.Nice, &st.CPUTicks); err != nil {
			return nil, err
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var state, createdAt string
	var mlfqs int
	var completedAt *string

	err := row.Scan(&run.ID, &run.Scenario, &state, &mlfqs, &run.TimerFreq,
		&run.Ticks, &run.Switches, &run.IdleTicks, &run.KernelTicks,
		&run.ThreadCount, &run.FailedChecks, &run.Error, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.State = model.RunState(state)
	run.MLFQS = mlfqs != 0
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
