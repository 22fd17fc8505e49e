package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tokligence/streamguard/internal/health"
	"github.com/tokligence/streamguard/internal/httpserver/protocol"
	"github.com/tokligence/streamguard/internal/ledger"
	"github.com/tokligence/streamguard/internal/metrics"
	"github.com/tokligence/streamguard/internal/ratelimit"
	"github.com/tokligence/streamguard/internal/source"
	"github.com/tokligence/streamguard/internal/streamguard"
)

var defaultEndpointKeys = []string{"health", "metrics", "files", "proxy", "admin"}

var (
	// ErrNoRoute is returned for proxy requests naming an unknown route.
	ErrNoRoute = errors.New("no such route")
	// ErrInvalidPath is returned for file paths escaping the files root.
	ErrInvalidPath = errors.New("invalid path")
)

// Options holds the Server dependencies. Nil dependencies disable the
// endpoints that need them.
type Options struct {
	Logger  *zap.Logger
	Ledger  ledger.Store
	Metrics *metrics.Collector
	Health  *health.Checker

	// FilesRoot is the directory served under /files/; empty disables it.
	FilesRoot string
	ChunkSize int
	Upstreams []*source.Upstream

	// Endpoints selects endpoint bundles by key; empty means all.
	Endpoints []string
	// Flush flushes after every chunk written by guarded streams.
	Flush bool
	// RateLimiter limits how fast each client may open file and proxy
	// streams; nil disables limiting.
	RateLimiter *ratelimit.Limiter
}

// Server exposes guarded streaming endpoints over chi.
type Server struct {
	logger    *zap.Logger
	ledger    ledger.Store
	metrics   *metrics.Collector
	health    *health.Checker
	filesRoot string
	chunkSize int
	upstreams map[string]*source.Upstream
	endpoints []string
	flush     bool
	limiter   *ratelimit.Limiter
}

// New constructs a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = source.DefaultChunkSize
	}
	s := &Server{
		logger:    logger.Named("http"),
		ledger:    opts.Ledger,
		metrics:   collector,
		health:    opts.Health,
		filesRoot: opts.FilesRoot,
		chunkSize: chunk,
		upstreams: make(map[string]*source.Upstream, len(opts.Upstreams)),
		endpoints: normalizeEndpointKeys(opts.Endpoints, defaultEndpointKeys),
		flush:     opts.Flush,
		limiter:   opts.RateLimiter,
	}
	for _, u := range opts.Upstreams {
		s.upstreams[u.Name()] = u
	}
	return s
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(streamguard.Middleware)

	s.registerEndpointKeys(r, s.endpoints...)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, errors.New("not found"))
	})
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		s.logger.Debug("registering endpoint", zap.String("endpoint", ep.Name()))
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	var endpoints []protocol.Endpoint
	for _, key := range keys {
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		} else {
			s.logger.Debug("endpoint unavailable, skipping registration", zap.String("endpoint", key))
		}
	}
	s.registerEndpoints(r, endpoints...)
	return len(endpoints)
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "health":
		return newHealthEndpoint(s)
	case "metrics":
		return newMetricsEndpoint(s)
	case "files":
		if s.filesRoot == "" {
			return nil
		}
		return newFilesEndpoint(s)
	case "proxy":
		if len(s.upstreams) == 0 {
			return nil
		}
		return newProxyEndpoint(s)
	case "admin":
		if s.ledger == nil {
			return nil
		}
		return newAdminEndpoint(s)
	default:
		return nil
	}
}

func normalizeEndpointKeys(list []string, defaults []string) []string {
	if len(list) == 0 {
		list = defaults
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, key := range list {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// limit applies the per-client stream rate limit to h.
func (s *Server) limit(h http.Handler) http.Handler {
	return ratelimit.Middleware(s.limiter, s.logger)(h)
}

// streamOptions wires metrics, the ledger and logging into a guarded route.
func (s *Server) streamOptions(route string) []streamguard.Option {
	return []streamguard.Option{
		streamguard.WithObserver(streamguard.Observers(
			s.metrics.Observer(route),
			&streamRecorder{route: route, ledger: s.ledger, logger: s.logger},
		)),
		streamguard.WithFlush(s.flush),
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
