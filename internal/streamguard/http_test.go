package streamguard

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	results  []Result
	finished chan struct{}
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(chan struct{}, 16)}
}

func (o *recordingObserver) StreamStarted(*http.Request) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) StreamFinished(_ *http.Request, res Result, _ time.Duration) {
	o.mu.Lock()
	o.results = append(o.results, res)
	o.mu.Unlock()
	o.finished <- struct{}{}
}

func (o *recordingObserver) last() Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[len(o.results)-1]
}

func TestServeStreamsChunks(t *testing.T) {
	src := newFake(3)
	obs := newRecordingObserver()
	h := Serve(HandlerFunc(func(start StartFunc, r *http.Request) (Stream, error) {
		start(http.StatusAccepted, http.Header{"Content-Type": {"text/plain"}})
		return src, nil
	}), WithObserver(obs))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "chunk-1;chunk-2;chunk-3;", rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Equal(t, 1, src.closes)
	assert.Equal(t, 1, obs.started)
	assert.Equal(t, OutcomeCompleted, obs.last().Outcome)
	assert.Equal(t, 3, obs.last().Chunks)
}

func TestServeDefaultsToOK(t *testing.T) {
	h := Serve(HandlerFunc(func(StartFunc, *http.Request) (Stream, error) {
		return newFake(1), nil
	}), WithFlush(false))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, rec.Flushed)
	assert.Equal(t, "chunk-1;", rec.Body.String())
}

func TestServeHandlerErrorBeforeStart(t *testing.T) {
	obs := newRecordingObserver()
	h := Serve(HandlerFunc(func(StartFunc, *http.Request) (Stream, error) {
		return nil, errors.New("upstream unavailable")
	}), WithObserver(obs))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "upstream unavailable", body["error"])
	assert.Equal(t, OutcomeFailed, obs.last().Outcome)
}

func TestServeAbortsOnMidStreamFailure(t *testing.T) {
	src := newFake(3)
	src.failAt = 2
	src.failErr = errors.New("render failed")
	obs := newRecordingObserver()
	h := Serve(HandlerFunc(func(StartFunc, *http.Request) (Stream, error) {
		return src, nil
	}), WithObserver(obs))

	rec := httptest.NewRecorder()
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, "chunk-1;", rec.Body.String())
	assert.Equal(t, 1, src.closes)
	assert.Equal(t, OutcomeFailed, obs.last().Outcome)
}

func TestServeWithoutAbortEndsEarly(t *testing.T) {
	src := newFake(3)
	src.failAt = 3
	src.failErr = errors.New("render failed")
	h := Serve(HandlerFunc(func(StartFunc, *http.Request) (Stream, error) {
		return src, nil
	}), WithAbortOnFailure(false))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, "chunk-1;chunk-2;", rec.Body.String())
}

func TestServeCancelledRequestIsDisconnect(t *testing.T) {
	src := newFake(3)
	obs := newRecordingObserver()
	h := Serve(HandlerFunc(func(StartFunc, *http.Request) (Stream, error) {
		return src, nil
	}), WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))

	assert.Empty(t, rec.Body.String())
	assert.Equal(t, OutcomeDisconnected, obs.last().Outcome)
	assert.Equal(t, 1, src.closes)
}

// endless produces chunks until closed.
type endless struct {
	mu     sync.Mutex
	closed bool
	n      int
}

func (e *endless) Next() ([]byte, error) {
	time.Sleep(2 * time.Millisecond)
	e.mu.Lock()
	e.n++
	e.mu.Unlock()
	return []byte(strings.Repeat("x", 1024) + "\n"), nil
}

func (e *endless) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func TestServeClientDisconnectOverTCP(t *testing.T) {
	src := &endless{}
	obs := newRecordingObserver()
	srv := httptest.NewServer(Serve(HandlerFunc(func(StartFunc, *http.Request) (Stream, error) {
		return src, nil
	}), WithObserver(obs)))
	defer srv.Close()

	tr := &http.Transport{}
	defer tr.CloseIdleConnections()
	resp, err := (&http.Client{Transport: tr}).Get(srv.URL)
	require.NoError(t, err)
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Len(t, line, 1025)
	require.NoError(t, resp.Body.Close())

	select {
	case <-obs.finished:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after client disconnect")
	}
	assert.Equal(t, OutcomeDisconnected, obs.last().Outcome)
	src.mu.Lock()
	assert.True(t, src.closed)
	src.mu.Unlock()
}

type brokenWriter struct {
	header http.Header
	writes int
}

func (b *brokenWriter) Header() http.Header {
	if b.header == nil {
		b.header = http.Header{}
	}
	return b.header
}

func (b *brokenWriter) Write([]byte) (int, error) {
	b.writes++
	return 0, &netError{err: syscall.EPIPE}
}

func (b *brokenWriter) WriteHeader(int) {}

type netError struct{ err error }

func (e *netError) Error() string { return "write tcp 10.0.0.1:80: " + e.err.Error() }
func (e *netError) Unwrap() error { return e.err }

func TestMiddlewareDropsWritesAfterDisconnect(t *testing.T) {
	bw := &brokenWriter{}
	var errs []error
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 3; i++ {
			_, err := w.Write([]byte("data"))
			errs = append(errs, err)
		}
		w.(http.Flusher).Flush()
	}))
	h.ServeHTTP(bw, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 1, bw.writes)
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, syscall.EPIPE)
	}
}

func TestMiddlewareRecoversDisconnectPanics(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(&netError{err: syscall.ECONNRESET})
	}))
	assert.NotPanics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestMiddlewareRepanicsOtherFailures(t *testing.T) {
	boom := errors.New("nil order")
	h := Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(boom)
	}))
	assert.PanicsWithValue(t, boom, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	abort := Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		abort.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestMiddlewareKeepsResponseControllerWorking(t *testing.T) {
	rec := httptest.NewRecorder()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
		assert.NoError(t, http.NewResponseController(w).Flush())
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestIsDisconnect(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{syscall.EPIPE, true},
		{&netError{err: syscall.ECONNRESET}, true},
		{context.Canceled, true},
		{errors.New("http2: stream closed"), true},
		{errors.New("write: Broken Pipe"), true},
		{errors.New("client disconnected"), true},
		{context.DeadlineExceeded, false},
		{errors.New("sql: no rows in result set"), false},
		{http.ErrAbortHandler, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsDisconnect(tc.err), "%v", tc.err)
	}
}
