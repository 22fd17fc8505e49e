package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/streamguard/internal/ledger"
	"github.com/tokligence/streamguard/internal/streamguard"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS stream_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	route TEXT NOT NULL DEFAULT '',
	method TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','disconnected','failed')),
	chunks INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_stream_entries_created ON stream_entries(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_stream_entries_outcome ON stream_entries(outcome, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new stream entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var errText any
	if entry.Error != "" {
		errText = entry.Error
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stream_entries(request_id, route, method, path, outcome, chunks, bytes, error, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		entry.Route,
		entry.Method,
		entry.Path,
		string(entry.Outcome),
		entry.Chunks,
		entry.Bytes,
		errText,
		entry.DurationMS,
		created,
	)
	return err
}

// Summary returns outcome counts across all entries.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN outcome='completed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='disconnected' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='failed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(bytes), 0)
FROM stream_entries`)

	var sum ledger.Summary
	if err := row.Scan(&sum.Total, &sum.Completed, &sum.Disconnected, &sum.Failed, &sum.Bytes); err != nil {
		return ledger.Summary{}, err
	}
	return sum, nil
}

// ListRecent returns the latest entries, optionally filtered by outcome.
func (s *Store) ListRecent(ctx context.Context, limit int, outcomes ...streamguard.Outcome) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	query := `SELECT ` + ledger.Columns + ` FROM stream_entries`
	args := make([]any, 0, len(outcomes)+1)
	if len(outcomes) > 0 {
		marks := make([]string, len(outcomes))
		for i, o := range outcomes {
			marks[i] = "?"
			args = append(args, string(o))
		}
		query += ` WHERE outcome IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return ledger.CollectEntries(rows)
}

// Export streams all entries in insertion order.
func (s *Store) Export(ctx context.Context) (streamguard.Stream, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ledger.Columns+` FROM stream_entries ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	return ledger.NewRowStream(rows), nil
}
