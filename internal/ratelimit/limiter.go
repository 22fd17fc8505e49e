package ratelimit

import (
	"sync"
	"time"
)

// Config holds configuration for the stream admission limiter.
type Config struct {
	// StreamsPerSecond is the sustained rate of new streams per client.
	StreamsPerSecond float64
	// Burst is the number of streams a client may open at once.
	Burst float64
	// CleanupInterval controls how often idle client buckets are dropped.
	CleanupInterval time.Duration
}

// Limiter admits new streams per client key (normally the client IP).
type Limiter struct {
	capacity   float64
	refillRate float64

	mu      sync.Mutex
	buckets map[string]*TokenBucket

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLimiter creates a limiter and starts its cleanup loop; call Close to stop it.
func NewLimiter(cfg Config) *Limiter {
	if cfg.StreamsPerSecond <= 0 {
		cfg.StreamsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2 * cfg.StreamsPerSecond
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		capacity:   cfg.Burst,
		refillRate: cfg.StreamsPerSecond,
		buckets:    make(map[string]*TokenBucket),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go l.cleanupLoop(cfg.CleanupInterval)
	return l
}

// Allow reports whether key may open another stream now, and if not, how
// long until it may.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	b := l.bucket(key)
	if b.Allow() {
		return true, 0
	}
	return false, b.WaitTime()
}

// Limit returns the burst capacity per client.
func (l *Limiter) Limit() float64 { return l.capacity }

// Clients returns the number of tracked client buckets.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the cleanup loop.
func (l *Limiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *Limiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = NewTokenBucket(l.capacity, l.refillRate)
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup drops buckets that have refilled completely.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.full() {
			delete(l.buckets, key)
		}
	}
}
