package streamguard

import (
	"errors"
	"io"
	"iter"
	"net/http"
	"sync"
)

// Wrap returns a Handler with the same contract as h whose streams are
// guarded. Each call invokes h exactly once; nothing is shared between calls,
// so one wrapped handler may serve concurrent requests.
func Wrap(h Handler) Handler {
	return HandlerFunc(func(start StartFunc, r *http.Request) (Stream, error) {
		src, err := h.ServeStream(start, r)
		if err != nil {
			if src != nil {
				release(src)
			}
			return nil, err
		}
		return Guard(src), nil
	})
}

// Guarded is a Stream that owns a downstream Stream and releases it exactly
// once. It is not safe for concurrent use: the goroutine that pulls chunks
// also owns Close.
type Guarded struct {
	src      Stream
	once     sync.Once
	finished bool
	termErr  error
	res      Result
}

// Guard takes ownership of src. A nil src behaves as an empty stream.
func Guard(src Stream) *Guarded {
	if src == nil {
		src = emptyStream{}
	}
	return &Guarded{src: src, res: Result{Outcome: OutcomeCompleted}}
}

// Next pulls the next downstream chunk. The downstream stream is released as
// soon as it reports io.EOF or an error; that error is returned unchanged.
func (g *Guarded) Next() ([]byte, error) {
	if g.finished {
		return nil, g.termErr
	}
	chunk, err := g.src.Next()
	if err != nil {
		g.finish(err)
		return nil, err
	}
	g.res.Chunks++
	g.res.Bytes += int64(len(chunk))
	return chunk, nil
}

// Close releases the downstream stream if that has not happened yet. Closing
// before exhaustion records the stream as stopped by the caller.
func (g *Guarded) Close() error {
	if !g.finished {
		g.stop()
	}
	g.once.Do(func() { release(g.src) })
	return nil
}

// WriteTo writes every downstream chunk to w. A write that fails with a
// disconnect ends the stream with a nil error; a downstream failure or any
// other write failure is returned as is. The downstream stream is released
// before WriteTo returns.
func (g *Guarded) WriteTo(w io.Writer) (int64, error) {
	defer g.Close()
	var written int64
	for {
		chunk, err := g.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, werr := w.Write(chunk)
		written += int64(n)
		if werr == nil && n < len(chunk) {
			werr = io.ErrShortWrite
		}
		if werr == nil {
			continue
		}
		// the chunk never reached the caller
		g.res.Chunks--
		g.res.Bytes -= int64(len(chunk))
		if IsDisconnect(werr) {
			g.stop()
			return written, nil
		}
		g.fail(werr)
		return written, werr
	}
}

// Chunks returns a single-use iterator over the downstream chunks. Breaking
// out of the loop releases the downstream stream. A downstream failure is
// yielded once as the final element.
func (g *Guarded) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		defer g.Close()
		for {
			chunk, err := g.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Result reports what has been delivered so far and how the stream ended.
func (g *Guarded) Result() Result {
	return g.res
}

// Copy guards src and writes it to w, returning the final Result.
func Copy(w io.Writer, src Stream) Result {
	g := Guard(src)
	_, _ = g.WriteTo(w)
	return g.Result()
}

func (g *Guarded) finish(err error) {
	g.finished = true
	g.termErr = err
	if !errors.Is(err, io.EOF) {
		g.res.Outcome = OutcomeFailed
		g.res.Err = err
	}
	g.once.Do(func() { release(g.src) })
}

func (g *Guarded) stop() {
	g.finished = true
	g.termErr = io.EOF
	g.res.Outcome = OutcomeDisconnected
}

func (g *Guarded) fail(err error) {
	g.finished = true
	g.termErr = err
	g.res.Outcome = OutcomeFailed
	g.res.Err = err
}
