package ledger

import (
	"database/sql"
	"encoding/json"
	"io"

	"github.com/tokligence/streamguard/internal/streamguard"
)

// Columns is the select list shared by the SQL backends, in ScanEntry order.
const Columns = `id, request_id, route, method, path, outcome, chunks, bytes, error, duration_ms, created_at`

// ScanEntry reads one row selected with Columns.
func ScanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var outcome string
	var errText sql.NullString
	if err := rows.Scan(&e.ID, &e.RequestID, &e.Route, &e.Method, &e.Path, &outcome, &e.Chunks, &e.Bytes, &errText, &e.DurationMS, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.Outcome = streamguard.Outcome(outcome)
	e.Error = errText.String
	return e, nil
}

// CollectEntries drains rows into a slice and closes them.
func CollectEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := ScanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RowStream emits one JSON line per row. Close closes the rows.
type RowStream struct {
	rows *sql.Rows
}

// NewRowStream takes ownership of rows.
func NewRowStream(rows *sql.Rows) *RowStream {
	return &RowStream{rows: rows}
}

func (s *RowStream) Next() ([]byte, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	e, err := ScanEntry(s.rows)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (s *RowStream) Close() error {
	return s.rows.Close()
}
