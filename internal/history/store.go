// Package history keeps a SQLite journal of what the tracker did with each
// change event: uploads that succeeded, uploads that failed and events that
// were filtered out before dispatch.
//
// The database runs in embedded mode through ncruces/go-sqlite3 with WAL
// enabled so the CLI can read history while a tracker is writing it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/remit/internal/tracker"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history: store closed")

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Entry is one journaled dispatch outcome.
type Entry struct {
	ID         int64
	Time       time.Time
	Action     string
	LocalPath  string
	RemotePath string
	Outcome    string
	Reason     string
	Error      string
	Duration   time.Duration
}

// FromResult converts a consumer result into a journal entry.
func FromResult(res tracker.DispatchResult) Entry {
	e := Entry{
		Time:       res.Started,
		Action:     res.Event.Action.String(),
		LocalPath:  res.Event.LocalPath,
		RemotePath: res.Event.RemotePath,
		Outcome:    res.Outcome.String(),
		Reason:     res.Reason,
		Duration:   res.Duration,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

// Store wraps the history database.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
	closed atomic.Bool
}

// Open creates or opens the history database at path and ensures its
// schema exists. The caller must Close the store.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[history] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	conn.SetMaxOpenConns(4)

	s := &Store{conn: conn, path: path, logger: logger}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		action TEXT NOT NULL,
		local_path TEXT NOT NULL,
		remote_path TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_at ON uploads(at);
	CREATE INDEX IF NOT EXISTS idx_uploads_outcome ON uploads(outcome);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close history database: %w", err)
	}
	return nil
}

// Record appends e to the journal and returns its row id. A zero Time is
// replaced by the current time.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO uploads (at, action, local_path, remote_path, outcome, reason, error, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(timeFormat),
		e.Action,
		e.LocalPath,
		e.RemotePath,
		e.Outcome,
		e.Reason,
		e.Error,
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record %s: %w", e.LocalPath, err)
	}
	return res.LastInsertId()
}

// Recent returns entries at or after since, newest first. A zero since
// returns everything; limit <= 0 means no limit.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, at, action, local_path, remote_path, outcome, reason, error, duration_ms
	FROM uploads
	WHERE at >= ?
	ORDER BY at DESC, id DESC
	LIMIT ?`,
		since.UTC().Format(timeFormat), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		var ms int64
		if err := rows.Scan(&e.ID, &at, &e.Action, &e.LocalPath, &e.RemotePath,
			&e.Outcome, &e.Reason, &e.Error, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if t, err := time.Parse(timeFormat, at); err == nil {
			e.Time = t
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}

// Count returns the number of journaled entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM uploads").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// Hook returns a tracker.ResultHook that records every result. Write
// failures are logged.
func (s *Store) Hook() tracker.ResultHook {
	return func(res tracker.DispatchResult) {
		if _, err := s.Record(context.Background(), FromResult(res)); err != nil {
			s.logger.Printf("Failed to record history: %v", err)
		}
	}
}
