package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/flux/internal/model"

	_ "modernc.org/sqlite"
)

const createInvocationsTable = `
CREATE TABLE IF NOT EXISTS invocations (
    id           TEXT PRIMARY KEY,
    task_id      TEXT NOT NULL,
    status       TEXT NOT NULL,
    unit_name    TEXT,
    unit_version INTEGER,
    args         TEXT NOT NULL,
    output       TEXT,
    error        TEXT,
    timeout_ms   INTEGER,
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS log_lines (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    invocation_id TEXT NOT NULL REFERENCES invocations(id),
    seq           INTEGER NOT NULL,
    line          TEXT NOT NULL,
    created_at    DATETIME NOT NULL
)`

const createLogLinesIndex = `
CREATE INDEX IF NOT EXISTS idx_log_lines_invocation ON log_lines (invocation_id, seq)`

const createUnitsTable = `
CREATE TABLE IF NOT EXISTS units (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    version      INTEGER NOT NULL,
    path         TEXT NOT NULL,
    status       TEXT NOT NULL,
    task_ids     TEXT NOT NULL,
    workflow_ids TEXT NOT NULL,
    error        TEXT,
    loaded_at    DATETIME NOT NULL,
    unloaded_at  DATETIME
)`

var migrations = []string{
	createInvocationsTable,
	createLogLinesTable,
	createLogLinesIndex,
	createUnitsTable,
}

const invocationColumns = `id, task_id, status, unit_name, unit_version, args, output,
	error, timeout_ms, duration_ms, created_at, started_at, finished_at`

const unitColumns = `id, name, version, path, status, task_ids, workflow_ids,
	error, loaded_at, unloaded_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isTerminal(status string) bool {
	return status == model.StatusKilled || status == model.StatusCompleted || status == model.StatusFailed
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// CreateInvocation inserts a new invocation record.
func (s *SQLiteStore) CreateInvocation(ctx context.Context, inv *model.Invocation) error {
	args := inv.Args
	if len(args) == 0 {
		args = json.RawMessage("[]")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (`+invocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.TaskID, inv.Status, inv.UnitName, inv.UnitVersion, string(args),
		nullableJSON(inv.Output), inv.Error, inv.TimeoutMS, inv.DurationMS,
		inv.CreatedAt, inv.StartedAt, inv.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

func scanInvocation(row rowScanner) (*model.Invocation, error) {
	inv := &model.Invocation{}
	var unitName, output, errText sql.NullString
	var args string
	if err := row.Scan(
		&inv.ID, &inv.TaskID, &inv.Status, &unitName, &inv.UnitVersion, &args, &output,
		&errText, &inv.TimeoutMS, &inv.DurationMS, &inv.CreatedAt, &inv.StartedAt, &inv.FinishedAt,
	); err != nil {
		return nil, err
	}
	inv.UnitName = unitName.String
	inv.Args = json.RawMessage(args)
	if output.Valid {
		inv.Output = json.RawMessage(output.String)
	}
	inv.Error = errText.String
	return inv, nil
}

// GetInvocation retrieves an invocation by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*model.Invocation, error) {
	inv, err := scanInvocation(s.db.QueryRowContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns a page of invocations ordered by created_at DESC,
// along with the total count of all invocations.
func (s *SQLiteStore) ListInvocations(ctx context.Context, limit, offset int) ([]*model.Invocation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM invocations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invocations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var invocations []*model.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invocation: %w", err)
		}
		invocations = append(invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate invocations: %w", err)
	}

	return invocations, total, nil
}

// currentStatus reads the status of an invocation inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM invocations WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read invocation status: %w", err)
	}
	return status, nil
}

// UpdateInvocationStatus moves an invocation to status. Entering running sets
// started_at; entering a terminal status sets finished_at.
func (s *SQLiteStore) UpdateInvocationStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case isTerminal(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update invocation status: %w", err)
	}
	return tx.Commit()
}

// UpdateInvocation writes every mutable field of inv. A status change must be
// a valid transition.
func (s *SQLiteStore) UpdateInvocation(ctx context.Context, inv *model.Invocation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, inv.ID)
	if err != nil {
		return err
	}
	if from != inv.Status && !model.ValidTransition(from, inv.Status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, inv.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE invocations SET status = ?, unit_name = ?, unit_version = ?, output = ?,
			error = ?, timeout_ms = ?, duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		inv.Status, inv.UnitName, inv.UnitVersion, nullableJSON(inv.Output),
		inv.Error, inv.TimeoutMS, inv.DurationMS, inv.StartedAt, inv.FinishedAt,
		inv.ID,
	)
	if err != nil {
		return fmt.Errorf("update invocation: %w", err)
	}
	return tx.Commit()
}

// GetInvocationStats aggregates invocations by status and task. The average
// duration covers invocations that recorded one.
func (s *SQLiteStore) GetInvocationStats(ctx context.Context) (*InvocationStats, error) {
	stats := &InvocationStats{
		CountByStatus: make(map[string]int),
		CountByTask:   make(map[string]int),
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), AVG(duration_ms) FROM invocations",
	).Scan(&stats.Total, &avg); err != nil {
		return nil, fmt.Errorf("aggregate invocations: %w", err)
	}
	stats.AvgDurationMS = avg.Float64

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "task_id", stats.CountByTask); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills out with invocation counts grouped by column, which must be
// a trusted identifier.
func (s *SQLiteStore) countBy(ctx context.Context, column string, out map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM invocations GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count invocations by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		out[key] = n
	}
	return rows.Err()
}

// InsertLogLine appends one console line of an invocation.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, invocationID string, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO log_lines (invocation_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		invocationID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns the log lines of an invocation ordered by seq. An
// invocation without output yields an empty, non-nil slice.
func (s *SQLiteStore) GetLogLines(ctx context.Context, invocationID string) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invocation_id, seq, line, created_at FROM log_lines
		WHERE invocation_id = ? ORDER BY seq ASC`, invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	lines := []model.LogLine{}
	for rows.Next() {
		var l model.LogLine
		if err := rows.Scan(&l.ID, &l.InvocationID, &l.Seq, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}

// CreateUnitRecord inserts the history entry of a load attempt.
func (s *SQLiteStore) CreateUnitRecord(ctx context.Context, rec *model.UnitRecord) error {
	taskIDs, err := json.Marshal(nonNil(rec.TaskIDs))
	if err != nil {
		return fmt.Errorf("encode task ids: %w", err)
	}
	workflowIDs, err := json.Marshal(nonNil(rec.WorkflowIDs))
	if err != nil {
		return fmt.Errorf("encode workflow ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO units (`+unitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Version, rec.Path, rec.Status, string(taskIDs), string(workflowIDs),
		rec.Error, rec.LoadedAt, rec.UnloadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert unit record: %w", err)
	}
	return nil
}

// MarkUnitUnloaded closes the loaded record of (name, version).
func (s *SQLiteStore) MarkUnitUnloaded(ctx context.Context, name string, version int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE units SET status = ?, unloaded_at = ?
		WHERE name = ? AND version = ? AND status = ?`,
		model.UnitUnloaded, time.Now().UTC(), name, version, model.UnitLoaded,
	)
	if err != nil {
		return fmt.Errorf("mark unit unloaded: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnitRecords returns a page of the unit history, newest load first,
// along with the total count.
func (s *SQLiteStore) ListUnitRecords(ctx context.Context, limit, offset int) ([]*model.UnitRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM units").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count unit records: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units ORDER BY loaded_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list unit records: %w", err)
	}
	defer rows.Close()

	var records []*model.UnitRecord
	for rows.Next() {
		rec := &model.UnitRecord{}
		var taskIDs, workflowIDs string
		var errText sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.Version, &rec.Path, &rec.Status, &taskIDs, &workflowIDs,
			&errText, &rec.LoadedAt, &rec.UnloadedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan unit record: %w", err)
		}
		if err := json.Unmarshal([]byte(taskIDs), &rec.TaskIDs); err != nil {
			return nil, 0, fmt.Errorf("decode task ids: %w", err)
		}
		if err := json.Unmarshal([]byte(workflowIDs), &rec.WorkflowIDs); err != nil {
			return nil, 0, fmt.Errorf("decode workflow ids: %w", err)
		}
		rec.Error = errText.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate unit records: %w", err)
	}
	return records, total, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
