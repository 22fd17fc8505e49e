package httpserver

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tokligence/streamguard/internal/streamguard"
)

// HandleProxy forwards /proxy/{name}/rest to the named upstream as /rest and
// streams the response back through the guard.
func (s *Server) HandleProxy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	upstream, ok := s.upstreams[name]
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("%w: %s", ErrNoRoute, name))
		return
	}

	forwarded := new(http.Request)
	*forwarded = *r
	u := *r.URL
	u.Path = "/" + chi.URLParam(r, "*")
	u.RawPath = ""
	forwarded.URL = &u

	streamguard.Serve(upstream, s.streamOptions("proxy:"+name)...).ServeHTTP(w, forwarded)
}
