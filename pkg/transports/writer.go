package transports

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/frames"
)

// WriterSink writes the assembled byte stream to w, flushing after every
// utterance when w supports it.
type WriterSink struct {
	w       io.Writer
	name    string
	mu      sync.Mutex
	closed  bool
	written int64
	onClose func(cause error) error
}

func NewWriterSink(name string, w io.Writer) *WriterSink {
	if name == "" {
		name = "writer"
	}
	return &WriterSink{w: w, name: name}
}

// OnClose registers a hook run once by Close, e.g. to set an HTTP trailer.
func (s *WriterSink) OnClose(fn func(cause error) error) { s.onClose = fn }

func (s *WriterSink) Name() string { return s.name }

func (s *WriterSink) Write(ctx context.Context, chunk frames.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(ErrSinkClosed, errorsx.ReasonSinkClosed)
	}
	n, err := s.w.Write(chunk.Stream)
	s.written += int64(n)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSinkWrite)
	}
	switch f := s.w.(type) {
	case http.Flusher:
		f.Flush()
	case interface{ Flush() error }:
		if err := f.Flush(); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonSinkWrite)
		}
	}
	return nil
}

// Written returns the bytes accepted so far.
func (s *WriterSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *WriterSink) Close(cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.onClose != nil {
		return s.onClose(cause)
	}
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
