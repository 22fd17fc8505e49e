package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tokligence/streamguard/internal/streamguard"
)

// hopHeaders are not forwarded in either direction.
var hopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"content-length":      {},
}

// UpstreamConfig describes one passthrough target.
type UpstreamConfig struct {
	Name string
	// Target is the base URL requests are forwarded to.
	Target string
	// StripPrefix is removed from the incoming path before it is appended to Target.
	StripPrefix string
	Timeout     time.Duration
	// Headers are set on every upstream request.
	Headers   map[string]string
	ChunkSize int
}

// Ensure Upstream implements streamguard.Handler.
var _ streamguard.Handler = (*Upstream)(nil)

// Upstream forwards requests to an upstream HTTP server and streams the
// response body back. The upstream body is released when the stream closes.
type Upstream struct {
	cfg    UpstreamConfig
	base   *url.URL
	client *http.Client
}

// NewUpstream validates cfg. A nil client uses http.DefaultClient.
func NewUpstream(cfg UpstreamConfig, client *http.Client) (*Upstream, error) {
	target := strings.TrimSpace(cfg.Target)
	if target == "" {
		return nil, fmt.Errorf("upstream %q: target required", cfg.Name)
	}
	base, err := url.Parse(strings.TrimSuffix(target, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream %q: parse target: %w", cfg.Name, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream %q: unsupported scheme %q", cfg.Name, base.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Upstream{cfg: cfg, base: base, client: client}, nil
}

// Name returns the configured route name.
func (u *Upstream) Name() string { return u.cfg.Name }

// ServeStream implements streamguard.Handler.
func (u *Upstream) ServeStream(start streamguard.StartFunc, r *http.Request) (streamguard.Stream, error) {
	ctx := r.Context()
	var cancel context.CancelFunc
	if u.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, u.cfg.Timeout)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u.targetURL(r), r.Body)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	copyHeaders(req.Header, r.Header)
	for k, v := range u.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = r.ContentLength

	resp, err := u.client.Do(req)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("upstream %s: %w", u.cfg.Name, err)
	}
	header := make(http.Header, len(resp.Header))
	copyHeaders(header, resp.Header)
	if isEventStream(resp.Header) {
		header.Set("Cache-Control", "no-cache")
	}
	start(resp.StatusCode, header)
	return &upstreamBody{ReaderStream: Reader(resp.Body, u.cfg.ChunkSize), cancel: cancel}, nil
}

func (u *Upstream) targetURL(r *http.Request) string {
	path := r.URL.Path
	if u.cfg.StripPrefix != "" {
		path = strings.TrimPrefix(path, u.cfg.StripPrefix)
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	out := *u.base
	out.Path = u.base.Path + path
	out.RawQuery = r.URL.RawQuery
	return out.String()
}

type upstreamBody struct {
	*ReaderStream
	cancel context.CancelFunc
}

func (b *upstreamBody) Next() ([]byte, error) {
	chunk, err := b.ReaderStream.Next()
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("upstream timed out: %w", err)
	}
	return chunk, err
}

func (b *upstreamBody) Close() error {
	err := b.ReaderStream.Close()
	if b.cancel != nil {
		b.cancel()
	}
	return err
}

func copyHeaders(dst, src http.Header) {
	for k, vals := range src {
		if _, skip := hopHeaders[strings.ToLower(k)]; skip {
			continue
		}
		dst[k] = append([]string(nil), vals...)
	}
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}
