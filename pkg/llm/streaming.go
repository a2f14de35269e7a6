package llm

import (
	"context"
	"io"
	"sync"
)

type tokenOrErr struct {
	tok string
	err error
}

// ChanStream adapts a producer goroutine to TokenStream. The producer calls
// Send for each token and Finish exactly once.
type ChanStream struct {
	ch     chan tokenOrErr
	done   chan struct{}
	once   sync.Once
	closer func() error
	err    error
}

func NewChanStream(buffer int, closer func() error) *ChanStream {
	if buffer < 0 {
		buffer = 0
	}
	return &ChanStream{
		ch:     make(chan tokenOrErr, buffer),
		done:   make(chan struct{}),
		closer: closer,
	}
}

// Send delivers tok unless the consumer closed the stream or ctx ended.
func (s *ChanStream) Send(ctx context.Context, tok string) bool {
	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	case s.ch <- tokenOrErr{tok: tok}:
		return true
	}
}

// Finish ends the stream; a nil err means a clean end.
func (s *ChanStream) Finish(err error) {
	if err != nil {
		select {
		case <-s.done:
		case s.ch <- tokenOrErr{err: err}:
		}
	}
	close(s.ch)
}

func (s *ChanStream) Next(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case item, ok := <-s.ch:
		if !ok {
			s.err = io.EOF
			return "", io.EOF
		}
		if item.err != nil {
			s.err = item.err
			return "", item.err
		}
		return item.tok, nil
	}
}

func (s *ChanStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer()
		}
	})
	return err
}

// SliceStream replays a fixed list of tokens.
type SliceStream struct {
	tokens []string
	pos    int
	err    error
}

// NewSliceStream returns a stream over tokens that ends with err, or io.EOF
// when err is nil.
func NewSliceStream(tokens []string, err error) *SliceStream {
	return &SliceStream{tokens: tokens, err: err}
}

func (s *SliceStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos < len(s.tokens) {
		tok := s.tokens[s.pos]
		s.pos++
		return tok, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *SliceStream) Close() error { return nil }
