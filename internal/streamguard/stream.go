// Package streamguard wraps streamed HTTP responses so that a client leaving
// mid-response ends the stream quietly while the downstream body is always
// released.
//
// A downstream Handler produces a Stream of byte chunks. Wrap returns a
// Handler with the same signature whose streams stop without error when a
// write hits a disconnect (broken pipe, connection reset, HTTP/2 stream
// closed), propagate any other failure unchanged, and close the downstream
// stream exactly once on every exit path. Close errors are discarded.
package streamguard

import (
	"io"
	"net/http"
)

// Stream is a produced-once, forward-only sequence of response chunks.
// Next returns io.EOF once the sequence is exhausted. A Stream that holds
// resources should also implement io.Closer.
type Stream interface {
	Next() ([]byte, error)
}

// StartFunc begins the response with a status code and headers. Handlers call
// it at most once, before the first chunk is produced.
type StartFunc func(status int, header http.Header)

// Handler produces the response body for a request.
type Handler interface {
	ServeStream(start StartFunc, r *http.Request) (Stream, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(start StartFunc, r *http.Request) (Stream, error)

// ServeStream calls f(start, r).
func (f HandlerFunc) ServeStream(start StartFunc, r *http.Request) (Stream, error) {
	return f(start, r)
}

// Outcome classifies how a guarded stream ended.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeDisconnected Outcome = "disconnected"
	OutcomeFailed       Outcome = "failed"
)

// Result summarises one guarded stream.
type Result struct {
	Outcome Outcome
	Chunks  int
	Bytes   int64
	// Err is set only for OutcomeFailed.
	Err error
}

// release closes s if it can be closed. Errors and panics from Close are
// discarded so they never replace the caller's outcome.
func release(s Stream) {
	c, ok := s.(io.Closer)
	if !ok {
		return
	}
	defer func() { _ = recover() }()
	_ = c.Close()
}

type emptyStream struct{}

func (emptyStream) Next() ([]byte, error) { return nil, io.EOF }
