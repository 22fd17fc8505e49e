package sqlite

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokligence/streamguard/internal/ledger"
	"github.com/tokligence/streamguard/internal/streamguard"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRecordAndSummary(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	record := func(id string, outcome streamguard.Outcome, bytes int64) {
		if err := store.Record(ctx, ledger.Entry{
			RequestID: id,
			Route:     "files",
			Method:    "GET",
			Path:      "/files/a.txt",
			Outcome:   outcome,
			Chunks:    2,
			Bytes:     bytes,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	record("r1", streamguard.OutcomeCompleted, 100)
	record("r2", streamguard.OutcomeDisconnected, 40)
	record("r3", streamguard.OutcomeCompleted, 60)
	record("r4", streamguard.OutcomeFailed, 0)

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := ledger.Summary{Total: 4, Completed: 2, Disconnected: 1, Failed: 1, Bytes: 200}
	if summary != want {
		t.Fatalf("unexpected summary %+v, want %+v", summary, want)
	}
}

func TestListRecentOrderingAndFilter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	entries := []ledger.Entry{
		{RequestID: "a", Outcome: streamguard.OutcomeCompleted, CreatedAt: time.Now().Add(-2 * time.Hour)},
		{RequestID: "b", Outcome: streamguard.OutcomeDisconnected, CreatedAt: time.Now().Add(-1 * time.Hour)},
		{RequestID: "c", Outcome: streamguard.OutcomeFailed, Error: "boom", CreatedAt: time.Now()},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].RequestID != "c" || recent[1].RequestID != "b" {
		t.Fatalf("unexpected ordering %#v", recent)
	}
	if recent[0].Error != "boom" {
		t.Fatalf("expected error text, got %q", recent[0].Error)
	}

	filtered, err := store.ListRecent(ctx, 0, streamguard.OutcomeCompleted, streamguard.OutcomeDisconnected)
	if err != nil {
		t.Fatalf("ListRecent filtered: %v", err)
	}
	if len(filtered) != 2 || filtered[0].RequestID != "b" || filtered[1].RequestID != "a" {
		t.Fatalf("unexpected filtered entries %#v", filtered)
	}
}

func TestRecordValidation(t *testing.T) {
	store := newStore(t)
	if err := store.Record(context.Background(), ledger.Entry{Outcome: streamguard.OutcomeCompleted}); err == nil {
		t.Fatalf("expected error for missing request id")
	}
	if err := store.Record(context.Background(), ledger.Entry{RequestID: "x", Outcome: "unexpected"}); err == nil {
		t.Fatalf("expected error for invalid outcome")
	}
}

func TestExportStreamsNDJSON(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"one", "two", "three"} {
		if err := store.Record(ctx, ledger.Entry{RequestID: id, Outcome: streamguard.OutcomeCompleted}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	stream, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	var out bytes.Buffer
	res := streamguard.Copy(&out, stream)
	if res.Outcome != streamguard.OutcomeCompleted || res.Chunks != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	var ids []string
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var e ledger.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		ids = append(ids, e.RequestID)
	}
	if len(ids) != 3 || ids[0] != "one" || ids[2] != "three" {
		t.Fatalf("unexpected export order %v", ids)
	}
}

func TestExportReleasesCursorOnEarlyStop(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.Record(ctx, ledger.Entry{RequestID: "r", Outcome: streamguard.OutcomeCompleted}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	store.db.SetMaxOpenConns(1)

	stream, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	g := streamguard.Guard(stream)
	if _, err := g.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	_ = g.Close()

	// the single pooled connection must be free again
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := store.Summary(queryCtx); err != nil {
		t.Fatalf("Summary after early close: %v", err)
	}
}
