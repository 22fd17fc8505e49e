package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tokligence/streamguard/internal/ledger"
	"github.com/tokligence/streamguard/internal/streamguard"
)

const maxListLimit = 1000

// HandleListStreams returns the ledger summary and the most recent entries,
// optionally filtered by ?outcome=disconnected,failed and bounded by ?limit=.
func (s *Server) HandleListStreams(w http.ResponseWriter, r *http.Request) {
	limit := ledger.DefaultListLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxListLimit)
	}
	var outcomes []streamguard.Outcome
	for _, v := range strings.Split(r.URL.Query().Get("outcome"), ",") {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		o := streamguard.Outcome(v)
		switch o {
		case streamguard.OutcomeCompleted, streamguard.OutcomeDisconnected, streamguard.OutcomeFailed:
			outcomes = append(outcomes, o)
		default:
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid outcome %q", v))
			return
		}
	}

	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	entries, err := s.ledger.ListRecent(r.Context(), limit, outcomes...)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"entries": entries,
	})
}

// exportHandler streams the whole ledger as NDJSON. A client that hangs up
// mid-export releases the database cursor.
func (s *Server) exportHandler() http.Handler {
	h := streamguard.HandlerFunc(func(start streamguard.StartFunc, r *http.Request) (streamguard.Stream, error) {
		rows, err := s.ledger.Export(r.Context())
		if err != nil {
			return nil, err
		}
		header := http.Header{}
		header.Set("Content-Type", "application/x-ndjson")
		start(http.StatusOK, header)
		return rows, nil
	})
	return streamguard.Serve(h, s.streamOptions("admin:export")...)
}
