package httpserver

import (
	"net/http"

	"github.com/tokligence/streamguard/internal/health"
	"github.com/tokligence/streamguard/internal/httpserver/protocol"
	"github.com/tokligence/streamguard/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
		{Method: http.MethodGet, Path: "/version", Handler: http.HandlerFunc(e.server.HandleVersion)},
	}
}

// HandleHealth reports ledger and upstream health; unhealthy maps to 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"status": health.StatusHealthy})
		return
	}
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, report)
}

func (s *Server) HandleVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, version.Map())
}
