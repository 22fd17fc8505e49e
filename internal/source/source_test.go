package source

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/streamguard/internal/streamguard"
)

type trackingReader struct {
	io.Reader
	closed int
}

func (t *trackingReader) Close() error {
	t.closed++
	return nil
}

func TestReaderChunks(t *testing.T) {
	tr := &trackingReader{Reader: strings.NewReader("abcdefghij")}
	s := Reader(tr, 4)

	var got []string
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(c))
	}
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, got)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, tr.closed)
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "receipt.txt")
	content := bytes.Repeat([]byte("0123456789"), 1000)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	s, info, err := File(path, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size())

	var out bytes.Buffer
	res := streamguard.Copy(&out, s)
	assert.Equal(t, streamguard.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, content, out.Bytes())

	_, _, err = File(dir, 0)
	assert.ErrorIs(t, err, ErrIsDirectory)
	_, _, err = File(filepath.Join(dir, "missing"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSliceAndSeq(t *testing.T) {
	s := Strings("a", "b")
	var out bytes.Buffer
	res := streamguard.Copy(&out, s)
	assert.Equal(t, "ab", out.String())
	assert.Equal(t, 2, res.Chunks)
	assert.True(t, s.Closed())

	stopped := false
	seq := iter.Seq2[[]byte, error](func(yield func([]byte, error) bool) {
		defer func() { stopped = true }()
		for i := 0; i < 100; i++ {
			if !yield([]byte("x"), nil) {
				return
			}
		}
	})
	g := streamguard.Guard(Seq(seq))
	_, err := g.Next()
	require.NoError(t, err)
	require.NoError(t, g.Close())
	assert.True(t, stopped)
}

func TestSeqPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	s := Seq(func(yield func([]byte, error) bool) {
		if !yield([]byte("a"), nil) {
			return
		}
		yield(nil, boom)
	})
	var out bytes.Buffer
	res := streamguard.Copy(&out, s)
	assert.Equal(t, streamguard.OutcomeFailed, res.Outcome)
	assert.Same(t, boom, res.Err)
	assert.Equal(t, "a", out.String())
}

func TestUpstreamForwards(t *testing.T) {
	var gotPath, gotQuery, gotHeader, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Client")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "data: one\n\n")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "data: two\n\n")
	}))
	defer upstream.Close()

	u, err := NewUpstream(UpstreamConfig{
		Name:        "events",
		Target:      upstream.URL + "/base/",
		StripPrefix: "/proxy/events",
		Headers:     map[string]string{"Authorization": "Bearer upstream"},
	}, upstream.Client())
	require.NoError(t, err)
	assert.Equal(t, "events", u.Name())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy/events/v1/feed?since=3", nil)
	req.Header.Set("X-Client", "abc")
	streamguard.Serve(u).ServeHTTP(rec, req)

	assert.Equal(t, "/base/v1/feed", gotPath)
	assert.Equal(t, "since=3", gotQuery)
	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "Bearer upstream", gotAuth)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Equal(t, "data: one\n\ndata: two\n\n", rec.Body.String())
}

func TestUpstreamUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	u, err := NewUpstream(UpstreamConfig{Name: "gone", Target: target}, nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	streamguard.Serve(u).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream gone")
}

func TestUpstreamTimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	u, err := NewUpstream(UpstreamConfig{Name: "slow", Target: upstream.URL, Timeout: 100 * time.Millisecond}, upstream.Client())
	require.NoError(t, err)

	s, err := u.ServeStream(func(int, http.Header) {}, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	var out bytes.Buffer
	res := streamguard.Copy(&out, s)
	assert.Equal(t, "first", out.String())
	assert.Equal(t, streamguard.OutcomeFailed, res.Outcome)
	assert.Error(t, res.Err)
	assert.False(t, streamguard.IsDisconnect(res.Err))
}

func TestNewUpstreamValidation(t *testing.T) {
	_, err := NewUpstream(UpstreamConfig{Name: "a"}, nil)
	assert.Error(t, err)
	_, err = NewUpstream(UpstreamConfig{Name: "a", Target: "ftp://example.com"}, nil)
	assert.Error(t, err)
}
