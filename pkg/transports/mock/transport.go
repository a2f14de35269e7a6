package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/frames"
	"github.com/harunnryd/storyteller/pkg/transports"
)

// Sink is an in-memory sink for local testing and integration.
// It records every chunk and can be told to reject writes.
type Sink struct {
	mu      sync.Mutex
	chunks  []frames.Chunk
	stream  []byte
	closed  bool
	cause   error
	failAt  int
	failErr error
}

func New() *Sink {
	return &Sink{failAt: -1}
}

// FailAt makes the n-th write (0-based) return err.
func (s *Sink) FailAt(n int, err error) {
	s.mu.Lock()
	s.failAt = n
	s.failErr = err
	s.mu.Unlock()
}

func (s *Sink) Name() string { return "mock" }

func (s *Sink) Write(ctx context.Context, chunk frames.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(transports.ErrSinkClosed, errorsx.ReasonSinkClosed)
	}
	if s.failAt == len(s.chunks) {
		return errorsx.Wrap(s.failErr, errorsx.ReasonSinkWrite)
	}
	s.chunks = append(s.chunks, chunk)
	s.stream = append(s.stream, chunk.Stream...)
	return nil
}

func (s *Sink) Close(cause error) error {
	s.mu.Lock()
	s.closed = true
	s.cause = cause
	s.mu.Unlock()
	return nil
}

// Chunks returns the chunks written so far.
func (s *Sink) Chunks() []frames.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frames.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Stream returns the concatenated assembled bytes.
func (s *Sink) Stream() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.stream...)
}

// Closed reports whether Close ran and with which cause.
func (s *Sink) Closed() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.cause
}

var _ transports.Sink = (*Sink)(nil)
