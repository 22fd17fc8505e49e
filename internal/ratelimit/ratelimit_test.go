package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTokenBucketBurstThenRefill(t *testing.T) {
	tb := NewTokenBucket(3, 50)
	for i := 0; i < 3; i++ {
		require.True(t, tb.Allow(), "burst request %d", i)
	}
	assert.False(t, tb.Allow())
	assert.Positive(t, tb.WaitTime())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, tb.Allow())
}

func TestTokenBucketConcurrent(t *testing.T) {
	tb := NewTokenBucket(100, 0.001)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if tb.Allow() {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, allowed)
}

func TestLimiterIsPerClient(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLimiter(Config{StreamsPerSecond: 0.001, Burst: 1})
	defer l.Close()

	ok, _ := l.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, wait := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Positive(t, wait)
	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok)
	assert.Equal(t, 2, l.Clients())
}

func TestLimiterCleanupDropsIdleClients(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLimiter(Config{StreamsPerSecond: 1000, Burst: 1, CleanupInterval: 5 * time.Millisecond})
	defer l.Close()

	l.Allow("idle")
	require.Eventually(t, func() bool { return l.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLimiter(Config{StreamsPerSecond: 0.001, Burst: 1})
	defer l.Close()
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/files/a", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestMiddlewareNilLimiter(t *testing.T) {
	next := http.NotFoundHandler()
	h := Middleware(nil, nil)(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
