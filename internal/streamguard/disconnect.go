package streamguard

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// disconnectErrors are transport conditions meaning the peer went away while
// a response was being written.
var disconnectErrors = []error{
	syscall.EPIPE,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	net.ErrClosed,
	io.ErrClosedPipe,
	context.Canceled,
}

// net/http's HTTP/2 server and some proxies only expose these as text.
var disconnectMessages = []string{
	"broken pipe",
	"connection reset by peer",
	"client disconnected",
	"http2: stream closed",
	"use of closed network connection",
}

// IsDisconnect reports whether err means the remote peer closed or reset the
// connection during a write. Everything else is a real failure.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range disconnectErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range disconnectMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
