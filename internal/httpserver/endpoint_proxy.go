package httpserver

import (
	"net/http"

	"github.com/tokligence/streamguard/internal/httpserver/protocol"
)

type proxyEndpoint struct {
	server *Server
}

func newProxyEndpoint(server *Server) protocol.Endpoint {
	return &proxyEndpoint{server: server}
}

func (e *proxyEndpoint) Name() string { return "proxy" }

func (e *proxyEndpoint) Routes() []protocol.EndpointRoute {
	h := e.server.limit(http.HandlerFunc(e.server.HandleProxy))
	routes := protocol.Methods("/proxy/{name}", h, http.MethodGet, http.MethodPost)
	return append(routes, protocol.Methods("/proxy/{name}/*", h, http.MethodGet, http.MethodPost)...)
}
