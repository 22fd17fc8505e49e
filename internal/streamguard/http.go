package streamguard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// Observer is notified around every stream served by Serve.
type Observer interface {
	StreamStarted(r *http.Request)
	StreamFinished(r *http.Request, res Result, elapsed time.Duration)
}

// Observers fans notifications out to several observers in order.
func Observers(list ...Observer) Observer {
	var out multiObserver
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) StreamStarted(r *http.Request) {
	for _, o := range m {
		o.StreamStarted(r)
	}
}

func (m multiObserver) StreamFinished(r *http.Request, res Result, elapsed time.Duration) {
	for _, o := range m {
		o.StreamFinished(r, res, elapsed)
	}
}

type options struct {
	observer Observer
	flush    bool
	abort    bool
}

// Option configures Serve.
type Option func(*options)

// WithObserver reports stream lifecycle events to o.
func WithObserver(o Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithFlush controls whether every chunk is flushed to the client (default true).
func WithFlush(enabled bool) Option {
	return func(opts *options) { opts.flush = enabled }
}

// WithAbortOnFailure controls whether a downstream failure after the headers
// were sent aborts the connection (default true). When disabled the response
// simply ends early.
func WithAbortOnFailure(enabled bool) Option {
	return func(opts *options) { opts.abort = enabled }
}

// Serve adapts a stream Handler to net/http. The handler is wrapped with
// Wrap. Failures before the response starts become a 502 JSON error; failures
// after that abort the connection with http.ErrAbortHandler so the client
// sees a truncated body instead of a complete one.
func Serve(h Handler, opts ...Option) http.Handler {
	o := options{flush: true, abort: true}
	for _, opt := range opts {
		opt(&o)
	}
	guarded := Wrap(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		if o.observer != nil {
			o.observer.StreamStarted(r)
		}
		st := &starter{w: w}
		res, err := serve(guarded, st, w, r, o.flush)
		if res.Outcome == OutcomeFailed && r.Context().Err() != nil {
			// the pull failed because the client cancelled the request
			res = Result{Outcome: OutcomeDisconnected, Chunks: res.Chunks, Bytes: res.Bytes}
		}
		if o.observer != nil {
			o.observer.StreamFinished(r, res, time.Since(began))
		}
		if res.Outcome != OutcomeFailed {
			return
		}
		if !st.started {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		if o.abort {
			panic(http.ErrAbortHandler)
		}
	})
}

func serve(h Handler, st *starter, w http.ResponseWriter, r *http.Request, flush bool) (Result, error) {
	src, err := h.ServeStream(st.start, r)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}, err
	}
	g, ok := src.(*Guarded)
	if !ok {
		g = Guard(src)
	}
	st.start(http.StatusOK, nil)
	var out io.Writer = w
	if flush {
		out = &flushWriter{ctx: r.Context(), w: w, rc: http.NewResponseController(w)}
	}
	_, err = g.WriteTo(out)
	return g.Result(), err
}

type starter struct {
	w       http.ResponseWriter
	started bool
}

func (s *starter) start(status int, header http.Header) {
	if s.started {
		return
	}
	s.started = true
	dst := s.w.Header()
	for k, v := range header {
		dst[k] = v
	}
	if status == 0 {
		status = http.StatusOK
	}
	s.w.WriteHeader(status)
}

type flushWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	if err := f.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if ferr := f.rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
		return n, ferr
	}
	return n, nil
}

// Middleware guards plain http.Handlers. Once a write reports a disconnect,
// later writes and flushes are dropped and return the same error, and a panic
// carrying a disconnect error is recovered instead of crashing the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw := &guardWriter{ResponseWriter: w}
		defer func() {
			if v := recover(); v != nil {
				if err, ok := v.(error); ok && IsDisconnect(err) && !errors.Is(err, http.ErrAbortHandler) {
					return
				}
				panic(v)
			}
		}()
		next.ServeHTTP(gw, r)
	})
}

type guardWriter struct {
	http.ResponseWriter
	gone error
}

func (g *guardWriter) Write(p []byte) (int, error) {
	if g.gone != nil {
		return 0, g.gone
	}
	n, err := g.ResponseWriter.Write(p)
	if err != nil && IsDisconnect(err) {
		g.gone = err
	}
	return n, err
}

func (g *guardWriter) Flush() {
	if g.gone != nil {
		return
	}
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *guardWriter) FlushError() error {
	if g.gone != nil {
		return g.gone
	}
	err := http.NewResponseController(g.ResponseWriter).Flush()
	if err != nil && IsDisconnect(err) {
		g.gone = err
	}
	return err
}

func (g *guardWriter) Unwrap() http.ResponseWriter { return g.ResponseWriter }

func writeError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}
