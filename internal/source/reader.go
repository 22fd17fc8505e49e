// Package source provides downstream streams for streamguard handlers: files,
// arbitrary readers, upstream HTTP responses and in-memory chunk lists.
package source

import (
	"errors"
	"io"
	"os"
	"sync"
)

// DefaultChunkSize matches the read buffer used for passthrough streaming.
const DefaultChunkSize = 8192

// ReaderStream reads fixed-size chunks from an io.Reader and closes it on Close.
type ReaderStream struct {
	r         io.Reader
	closer    io.Closer
	buf       []byte
	closeOnce sync.Once
	closeErr  error
}

// Reader streams rc in chunks of at most chunkSize bytes.
func Reader(rc io.ReadCloser, chunkSize int) *ReaderStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ReaderStream{r: rc, closer: rc, buf: make([]byte, chunkSize)}
}

// File opens path for streaming.
func File(path string, chunkSize int) (*ReaderStream, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, ErrIsDirectory
	}
	return Reader(f, chunkSize), info, nil
}

// ErrIsDirectory is returned by File for directories.
var ErrIsDirectory = errors.New("source: path is a directory")

// Next returns the next chunk. The returned slice is only valid until the
// following call.
func (s *ReaderStream) Next() ([]byte, error) {
	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close closes the underlying reader once.
func (s *ReaderStream) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}
