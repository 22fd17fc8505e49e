package httpserver

import (
	"net/http"

	"github.com/tokligence/streamguard/internal/httpserver/protocol"
)

type adminEndpoint struct {
	server *Server
}

func newAdminEndpoint(server *Server) protocol.Endpoint {
	return &adminEndpoint{server: server}
}

func (e *adminEndpoint) Name() string { return "admin" }

func (e *adminEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/admin/streams", Handler: http.HandlerFunc(e.server.HandleListStreams)},
		{Method: http.MethodGet, Path: "/admin/streams/export", Handler: e.server.exportHandler()},
	}
}
