package source

import (
	"io"
	"iter"
)

// SliceStream yields a fixed list of chunks.
type SliceStream struct {
	chunks [][]byte
	pos    int
	closed bool
}

// Slice streams the given chunks in order.
func Slice(chunks ...[]byte) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// Strings is Slice for string chunks.
func Strings(chunks ...string) *SliceStream {
	out := make([][]byte, len(chunks))
	for i, c := range chunks {
		out[i] = []byte(c)
	}
	return Slice(out...)
}

func (s *SliceStream) Next() ([]byte, error) {
	if s.closed || s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool { return s.closed }

// SeqStream adapts a push iterator to a pull Stream.
type SeqStream struct {
	next func() ([]byte, error, bool)
	stop func()
}

// Seq streams the pairs produced by seq. A non-nil error from seq ends the
// stream with that error. Close stops the iterator.
func Seq(seq iter.Seq2[[]byte, error]) *SeqStream {
	next, stop := iter.Pull2(seq)
	return &SeqStream{next: next, stop: stop}
}

func (s *SeqStream) Next() ([]byte, error) {
	chunk, err, ok := s.next()
	if !ok {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (s *SeqStream) Close() error {
	s.stop()
	return nil
}
