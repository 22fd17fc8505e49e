package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Component is a checked dependency: the ledger database or an upstream.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // database or http
	CheckResult
}

// Report is the overall health of the daemon.
type Report struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config holds health checker configuration.
type Config struct {
	LedgerDB *sql.DB
	// Upstreams maps a route name to the URL probed for reachability.
	Upstreams map[string]string
	Client    *http.Client

	DBTimeout          time.Duration
	HTTPTimeout        time.Duration
	MaxDatabaseLatency time.Duration
}

// Checker performs health checks on the ledger and configured upstreams.
type Checker struct {
	cfg Config

	mu   sync.RWMutex
	last Report
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Checker{cfg: cfg}
}

// Check runs all checks concurrently and returns the overall report.
func (c *Checker) Check(ctx context.Context) Report {
	var (
		mu         sync.Mutex
		components []Component
	)
	add := func(comp Component) {
		mu.Lock()
		components = append(components, comp)
		mu.Unlock()
	}

	var g errgroup.Group
	if c.cfg.LedgerDB != nil {
		g.Go(func() error {
			add(c.checkDatabase(ctx, "ledger_db", c.cfg.LedgerDB))
			return nil
		})
	}
	for name, target := range c.cfg.Upstreams {
		g.Go(func() error {
			add(c.checkHTTPEndpoint(ctx, "upstream:"+name, target))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })
	report := overall(components)

	c.mu.Lock()
	c.last = report
	c.mu.Unlock()
	return report
}

// LastReport returns the most recent report, or a healthy empty report before the first check.
func (c *Checker) LastReport() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last.Timestamp.IsZero() {
		return Report{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return c.last
}

func (c *Checker) checkDatabase(ctx context.Context, name string, db *sql.DB) Component {
	comp := Component{Name: name, Type: "database", CheckResult: CheckResult{Timestamp: time.Now()}}

	dbCtx, cancel := context.WithTimeout(ctx, c.cfg.DBTimeout)
	defer cancel()

	start := time.Now()
	err := db.PingContext(dbCtx)
	latency := time.Since(start)
	comp.LatencyMS = latency.Milliseconds()

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Database unreachable"
	case latency > c.cfg.MaxDatabaseLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, target string) Component {
	comp := Component{Name: name, Type: "http", CheckResult: CheckResult{Timestamp: time.Now()}}

	httpCtx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(httpCtx, http.MethodGet, target, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}
	resp, err := c.cfg.Client.Do(req)
	comp.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	resp.Body.Close()

	// Any response, even 5xx, means the upstream is up.
	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

// overall marks the report unhealthy when the ledger is down, degraded for anything else.
func overall(components []Component) Report {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "database" {
				return Report{Status: StatusUnhealthy, Timestamp: time.Now(), Components: components}
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return Report{Status: status, Timestamp: time.Now(), Components: components}
}
