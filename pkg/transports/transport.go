package transports

import (
	"context"
	"errors"

	"github.com/harunnryd/storyteller/pkg/frames"
)

// ErrSinkClosed is returned by Write after the consumer went away.
var ErrSinkClosed = errors.New("sink closed")

// Sink defines a vendor-agnostic output boundary for one narration session.
// Write is called from a single goroutine, in utterance order.
type Sink interface {
	Name() string
	// Write delivers one synthesized utterance. An error stops the session.
	Write(ctx context.Context, chunk frames.Chunk) error
	// Close ends the stream. cause is nil on a clean end; otherwise the
	// sink must signal truncation to its consumer.
	Close(cause error) error
}

// ReadyReporter allows sinks to expose readiness metadata for logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}

// MultiSink fans chunks out to every sink in order. The first write error
// stops the fan-out.
type MultiSink struct {
	list []Sink
}

func NewMultiSink(list ...Sink) *MultiSink {
	return &MultiSink{list: list}
}

func (m *MultiSink) Name() string { return "multi" }

func (m *MultiSink) Write(ctx context.Context, chunk frames.Chunk) error {
	for _, s := range m.list {
		if err := s.Write(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) Close(cause error) error {
	var errs []error
	for _, s := range m.list {
		errs = append(errs, s.Close(cause))
	}
	return errors.Join(errs...)
}
