package protocol

import "net/http"

// EndpointRoute binds one method and chi path pattern to a handler.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoint is a named bundle of routes that can be enabled by key.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}

// Methods expands one handler to several methods on the same path.
func Methods(path string, h http.Handler, methods ...string) []EndpointRoute {
	out := make([]EndpointRoute, 0, len(methods))
	for _, m := range methods {
		out = append(out, EndpointRoute{Method: m, Path: path, Handler: h})
	}
	return out
}
