package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tokligence/streamguard/internal/ledger"
	"github.com/tokligence/streamguard/internal/streamguard"
)

// streamRecorder logs each finished stream and records it in the ledger.
type streamRecorder struct {
	route  string
	ledger ledger.Store
	logger *zap.Logger
}

func (sr *streamRecorder) StreamStarted(*http.Request) {}

func (sr *streamRecorder) StreamFinished(r *http.Request, res streamguard.Result, elapsed time.Duration) {
	entry := ledger.Entry{
		RequestID:  middleware.GetReqID(r.Context()),
		Route:      sr.route,
		Method:     r.Method,
		Path:       r.URL.Path,
		Outcome:    res.Outcome,
		Chunks:     int64(res.Chunks),
		Bytes:      res.Bytes,
		DurationMS: elapsed.Milliseconds(),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}

	fields := []zap.Field{
		zap.String("request_id", entry.RequestID),
		zap.String("route", sr.route),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("chunks", res.Chunks),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("elapsed", elapsed),
	}
	switch res.Outcome {
	case streamguard.OutcomeFailed:
		sr.logger.Warn("stream failed", append(fields, zap.Error(res.Err))...)
	case streamguard.OutcomeDisconnected:
		sr.logger.Info("client disconnected", fields...)
	default:
		sr.logger.Debug("stream completed", fields...)
	}

	if sr.ledger == nil {
		return
	}
	if entry.RequestID == "" {
		// Guarded handlers mounted outside Router still get an entry.
		entry.RequestID = "-"
	}
	if err := sr.ledger.Record(context.WithoutCancel(r.Context()), entry); err != nil {
		sr.logger.Error("ledger record failed", zap.String("request_id", entry.RequestID), zap.Error(err))
	}
}
