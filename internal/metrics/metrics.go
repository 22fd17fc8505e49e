package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/tokligence/streamguard/internal/streamguard"
)

// Collector collects stream and request metrics for Prometheus exposition.
// Counters are tracked manually behind a single mutex.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests    map[string]int64 // by route
	totalRequestsDur map[string]int64 // total duration in ms
	requestErrors    map[string]int64 // 5xx responses by route

	// Stream metrics
	streamsInProgress map[string]int64
	streamOutcomes    map[outcomeKey]int64
	streamChunks      map[string]int64
	streamBytes       map[string]int64
	streamDur         map[string]int64 // total stream duration in ms

	startTime time.Time
}

type outcomeKey struct {
	route   string
	outcome streamguard.Outcome
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:     make(map[string]int64),
		totalRequestsDur:  make(map[string]int64),
		requestErrors:     make(map[string]int64),
		streamsInProgress: make(map[string]int64),
		streamOutcomes:    make(map[outcomeKey]int64),
		streamChunks:      make(map[string]int64),
		streamBytes:       make(map[string]int64),
		streamDur:         make(map[string]int64),
		startTime:         time.Now(),
	}
}

// RecordRequest records a finished request to a route.
func (c *Collector) RecordRequest(route string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[route]++
	c.totalRequestsDur[route] += duration.Milliseconds()
	if status >= 500 {
		c.requestErrors[route]++
	}
}

// RecordStreamStart increments in-progress streams.
func (c *Collector) RecordStreamStart(route string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsInProgress[route]++
}

// RecordStreamEnd decrements in-progress streams and counts the outcome.
func (c *Collector) RecordStreamEnd(route string, res streamguard.Result, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsInProgress[route]--
	c.streamOutcomes[outcomeKey{route: route, outcome: res.Outcome}]++
	c.streamChunks[route] += int64(res.Chunks)
	c.streamBytes[route] += res.Bytes
	c.streamDur[route] += duration.Milliseconds()
}

// Observer returns a streamguard.Observer that records streams under route.
func (c *Collector) Observer(route string) streamguard.Observer {
	return routeObserver{c: c, route: route}
}

type routeObserver struct {
	c     *Collector
	route string
}

func (o routeObserver) StreamStarted(*http.Request) { o.c.RecordStreamStart(o.route) }

func (o routeObserver) StreamFinished(_ *http.Request, res streamguard.Result, elapsed time.Duration) {
	o.c.RecordStreamEnd(o.route, res, elapsed)
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime            int64
	TotalRequests     map[string]int64
	TotalRequestsDur  map[string]int64
	RequestErrors     map[string]int64
	StreamsInProgress map[string]int64
	// StreamOutcomes is keyed by route, then outcome.
	StreamOutcomes map[string]map[string]int64
	StreamChunks   map[string]int64
	StreamBytes    map[string]int64
	StreamDur      map[string]int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outcomes := make(map[string]map[string]int64)
	for k, v := range c.streamOutcomes {
		if outcomes[k.route] == nil {
			outcomes[k.route] = make(map[string]int64)
		}
		outcomes[k.route][string(k.outcome)] = v
	}
	return Snapshot{
		Uptime:            int64(time.Since(c.startTime).Seconds()),
		TotalRequests:     copyMap(c.totalRequests),
		TotalRequestsDur:  copyMap(c.totalRequestsDur),
		RequestErrors:     copyMap(c.requestErrors),
		StreamsInProgress: copyMap(c.streamsInProgress),
		StreamOutcomes:    outcomes,
		StreamChunks:      copyMap(c.streamChunks),
		StreamBytes:       copyMap(c.streamBytes),
		StreamDur:         copyMap(c.streamDur),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
