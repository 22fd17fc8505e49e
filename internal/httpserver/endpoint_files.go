package httpserver

import (
	"net/http"

	"github.com/tokligence/streamguard/internal/httpserver/protocol"
)

type filesEndpoint struct {
	server *Server
}

func newFilesEndpoint(server *Server) protocol.Endpoint {
	return &filesEndpoint{server: server}
}

func (e *filesEndpoint) Name() string { return "files" }

func (e *filesEndpoint) Routes() []protocol.EndpointRoute {
	return protocol.Methods("/files/*", e.server.limit(http.HandlerFunc(e.server.HandleFile)), http.MethodGet, http.MethodHead)
}
