package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/tokligence/streamguard/internal/ledger"
	"github.com/tokligence/streamguard/internal/streamguard"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Options tunes the connection pool. Zero values keep database/sql defaults.
type Options struct {
	// Driver is "pgx" (default) or "postgres" for lib/pq.
	Driver          string
	MaxOpen         int
	MaxIdle         int
	LifetimeMinutes int
	IdleTimeMinutes int
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and connection pool settings.
func New(dsn string, opts Options) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "pgx"
	}
	if driver != "pgx" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if opts.MaxOpen > 0 {
		db.SetMaxOpenConns(opts.MaxOpen)
	}
	if opts.MaxIdle > 0 {
		db.SetMaxIdleConns(opts.MaxIdle)
	}
	if opts.LifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(opts.LifetimeMinutes) * time.Minute)
	}
	if opts.IdleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(opts.IdleTimeMinutes) * time.Minute)
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
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL,
	route TEXT NOT NULL DEFAULT '',
	method TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','disconnected','failed')),
	chunks BIGINT NOT NULL DEFAULT 0,
	bytes BIGINT NOT NULL DEFAULT 0,
	error TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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
	COUNT(*) FILTER (WHERE outcome = 'completed'),
	COUNT(*) FILTER (WHERE outcome = 'disconnected'),
	COUNT(*) FILTER (WHERE outcome = 'failed'),
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
	var (
		rows *sql.Rows
		err  error
	)
	if len(outcomes) == 0 {
		rows, err = s.db.QueryContext(ctx, `
SELECT `+ledger.Columns+`
FROM stream_entries
ORDER BY created_at DESC, id DESC
LIMIT $1`, limit)
	} else {
		names := make([]string, len(outcomes))
		for i, o := range outcomes {
			names[i] = string(o)
		}
		rows, err = s.db.QueryContext(ctx, `
SELECT `+ledger.Columns+`
FROM stream_entries
WHERE outcome = ANY($1)
ORDER BY created_at DESC, id DESC
LIMIT $2`, pq.Array(names), limit)
	}
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
