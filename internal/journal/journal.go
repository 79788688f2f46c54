// Package journal persists IME sync events to SQLite for diagnostics.
// It records what the sync engine observed, never key-state history.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"nestkbd/internal/ime"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    started_ns  INTEGER NOT NULL,
    hostname    TEXT
);

CREATE TABLE IF NOT EXISTS sync_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id        TEXT NOT NULL REFERENCES runs(run_id),
    timestamp_ns  INTEGER NOT NULL,
    kind          TEXT NOT NULL,
    mode          TEXT NOT NULL,
    sync_state    INTEGER NOT NULL,
    failures      INTEGER NOT NULL,
    context       TEXT,
    error         TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_events_run ON sync_events(run_id, id);
CREATE INDEX IF NOT EXISTS idx_sync_events_kind ON sync_events(kind);
`

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// Entry is one persisted sync event.
type Entry struct {
	ID        int64
	RunID     uuid.UUID
	Kind      ime.EventKind
	Mode      ime.Mode
	State     ime.SyncState
	Failures  int
	Context   ime.Handle
	Error     string
	Timestamp time.Time
}

// Journal is a SQLite-backed record of sync events. Each Open starts a new
// run with its own id.
type Journal struct {
	logger *slog.Logger
	runID  uuid.UUID

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open opens or creates the journal at path and registers a new run.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	j := &Journal{logger: logger, runID: uuid.New(), db: db}

	hostname, _ := os.Hostname()
	if _, err := db.Exec(`INSERT INTO runs (run_id, started_ns, hostname) VALUES (?, ?, ?)`,
		j.runID.String(), time.Now().UnixNano(), hostname); err != nil {
		db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}
	logger.Debug("journal opened", "path", path, "run_id", j.runID.String())
	return j, nil
}

// RunID identifies this process run.
func (j *Journal) RunID() uuid.UUID { return j.runID }

// Record appends e to the journal.
func (j *Journal) Record(e ime.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	var errText sql.NullString
	if e.Err != nil {
		errText = sql.NullString{String: e.Err.Error(), Valid: true}
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := j.db.Exec(`
		INSERT INTO sync_events (run_id, timestamp_ns, kind, mode, sync_state, failures, context, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID.String(), ts.UnixNano(), string(e.Kind), e.Mode.String(), int(e.State),
		e.Failures, string(e.Context), errText,
	)
	if err != nil {
		return fmt.Errorf("insert sync event: %w", err)
	}
	return nil
}

// ObserveSync implements ime.Observer. Write failures are logged.
func (j *Journal) ObserveSync(e ime.Event) {
	if err := j.Record(e); err != nil && !errors.Is(err, ErrClosed) {
		j.logger.Warn("journal write failed", "kind", string(e.Kind), "error", err)
	}
}

// Recent returns up to n entries of the current run, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	return j.query(`
		SELECT id, run_id, timestamp_ns, kind, mode, sync_state, failures, context, error
		FROM sync_events WHERE run_id = ? ORDER BY id DESC LIMIT ?`,
		j.runID.String(), n)
}

// RecentAll returns up to n entries across all runs, newest first.
func (j *Journal) RecentAll(n int) ([]Entry, error) {
	return j.query(`
		SELECT id, run_id, timestamp_ns, kind, mode, sync_state, failures, context, error
		FROM sync_events ORDER BY id DESC LIMIT ?`, n)
}

// CountByKind returns how many events of each kind the current run logged.
func (j *Journal) CountByKind() (map[ime.EventKind]int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	rows, err := j.db.Query(`SELECT kind, COUNT(*) FROM sync_events WHERE run_id = ? GROUP BY kind`, j.runID.String())
	if err != nil {
		return nil, fmt.Errorf("count sync events: %w", err)
	}
	defer rows.Close()

	counts := make(map[ime.EventKind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[ime.EventKind(kind)] = n
	}
	return counts, rows.Err()
}

func (j *Journal) query(q string, args ...any) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			runID   string
			tsNs    int64
			kind    string
			mode    string
			state   int
			handle  sql.NullString
			errText sql.NullString
		)
		if err := rows.Scan(&e.ID, &runID, &tsNs, &kind, &mode, &state, &e.Failures, &handle, &errText); err != nil {
			return nil, fmt.Errorf("scan sync event: %w", err)
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("sync event %d: %w", e.ID, err)
		}
		if e.Mode, err = ime.ParseMode(mode); err != nil {
			return nil, fmt.Errorf("sync event %d: %w", e.ID, err)
		}
		e.Kind = ime.EventKind(kind)
		e.State = ime.SyncState(state)
		e.Context = ime.Handle(handle.String)
		e.Error = errText.String
		e.Timestamp = time.Unix(0, tsNs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks that the database is reachable.
func (j *Journal) Ping(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.db.PingContext(ctx)
}

// Close closes the database connection. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

var _ ime.Observer = (*Journal)(nil)
