package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Kind names the operation an event records.
type Kind string

const (
	KindCapture Kind = "capture"
	KindUpload  Kind = "upload"
	KindDelete  Kind = "delete"
)

// Event is one recorded capture, upload, or delete outcome.
type Event struct {
	ID       int64
	RunID    string
	Kind     Kind
	Name     string
	Success  bool
	Error    string
	Bytes    int64
	Duration time.Duration
	At       time.Time
}

// Summary aggregates events of one kind.
type Summary struct {
	Kind      Kind
	Successes int
	Failures  int
	LastAt    time.Time
}

// Store persists activity history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// Fixed width so timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Open connects to the history database at path, creating it when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database. Safe on nil.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Record appends ev. A zero At is stamped with the current time.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if s == nil {
		return nil
	}
	if ev.Kind == "" {
		return errors.New("history: event kind is required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (run_id, kind, name, success, error_message, bytes, duration_ms, occurred_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableString(ev.RunID),
			string(ev.Kind),
			ev.Name,
			boolToInt(ev.Success),
			nullableString(ev.Error),
			ev.Bytes,
			ev.Duration.Milliseconds(),
			ev.At.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit events, newest first. Passing kinds filters.
func (s *Store) Recent(ctx context.Context, limit int, kinds ...Kind) ([]Event, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, run_id, kind, name, success, error_message, bytes, duration_ms, occurred_at FROM events`
	args := make([]any, 0, len(kinds)+1)
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, kind := range kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		query += ` WHERE kind IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Summaries aggregates events at or after since, one row per kind.
func (s *Store) Summaries(ctx context.Context, since time.Time) ([]Summary, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT kind,
                SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END),
                SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
                MAX(occurred_at)
         FROM events WHERE occurred_at >= ? GROUP BY kind ORDER BY kind`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("summarise events: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			kind   string
			sum    Summary
			lastAt string
		)
		if err := rows.Scan(&kind, &sum.Successes, &sum.Failures, &lastAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Kind = Kind(kind)
		sum.LastAt = parseTime(lastAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Prune deletes events older than before and reports how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil {
		return 0, nil
	}
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE occurred_at < ?`, before.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("prune events: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (Event, error) {
	var (
		ev         Event
		runID      sql.NullString
		kind       string
		success    int
		errMessage sql.NullString
		durationMS int64
		occurredAt string
	)
	if err := row.Scan(&ev.ID, &runID, &kind, &ev.Name, &success, &errMessage, &ev.Bytes, &durationMS, &occurredAt); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.RunID = runID.String
	ev.Kind = Kind(kind)
	ev.Success = success != 0
	ev.Error = errMessage.String
	ev.Duration = time.Duration(durationMS) * time.Millisecond
	ev.At = parseTime(occurredAt)
	return ev, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
