package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokligence/streamguard/internal/streamguard"
)

// Entry records how one guarded response stream ended.
type Entry struct {
	ID         int64               `json:"id"`
	RequestID  string              `json:"request_id"`
	Route      string              `json:"route"`
	Method     string              `json:"method"`
	Path       string              `json:"path"`
	Outcome    streamguard.Outcome `json:"outcome"`
	Chunks     int64               `json:"chunks"`
	Bytes      int64               `json:"bytes"`
	Error      string              `json:"error,omitempty"`
	DurationMS int64               `json:"duration_ms"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	if e.RequestID == "" {
		return errors.New("ledger record requires request id")
	}
	switch e.Outcome {
	case streamguard.OutcomeCompleted, streamguard.OutcomeDisconnected, streamguard.OutcomeFailed:
		return nil
	default:
		return fmt.Errorf("invalid outcome %q", e.Outcome)
	}
}

// Summary aggregates stream outcomes.
type Summary struct {
	Total        int64 `json:"total"`
	Completed    int64 `json:"completed"`
	Disconnected int64 `json:"disconnected"`
	Failed       int64 `json:"failed"`
	Bytes        int64 `json:"bytes"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context) (Summary, error)
	// ListRecent returns the newest entries first. An empty outcomes list
	// matches every outcome.
	ListRecent(ctx context.Context, limit int, outcomes ...streamguard.Outcome) ([]Entry, error)
	// Export streams every entry, oldest first, as NDJSON. Closing the stream
	// releases the underlying cursor.
	Export(ctx context.Context) (streamguard.Stream, error)
	Close() error
}

// DefaultListLimit is used when ListRecent is called with a non-positive limit.
const DefaultListLimit = 50
