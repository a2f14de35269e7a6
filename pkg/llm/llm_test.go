package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/harunnryd/storyteller/pkg/metrics"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

type flakyAdapter struct {
	fails int
	calls int
	err   error
}

func (f *flakyAdapter) Name() string { return "flaky" }

func (f *flakyAdapter) Stream(ctx context.Context, input Context) (TokenStream, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, f.err
	}
	return NewSliceStream([]string{"a", "b"}, nil), nil
}

func TestCollectSliceStream(t *testing.T) {
	got, err := Collect(context.Background(), NewSliceStream([]string{"Once", " upon"}, nil))
	if err != nil || got != "Once upon" {
		t.Fatalf("expected joined tokens, got %q (%v)", got, err)
	}
	boom := errors.New("boom")
	got, err = Collect(context.Background(), NewSliceStream([]string{"x"}, boom))
	if !errors.Is(err, boom) || got != "x" {
		t.Fatalf("expected partial text and error, got %q (%v)", got, err)
	}
}

func TestChanStreamDeliversThenEOF(t *testing.T) {
	s := NewChanStream(0, nil)
	go func() {
		s.Send(context.Background(), "one")
		s.Send(context.Background(), "two")
		s.Finish(nil)
	}()
	ctx := context.Background()
	for _, want := range []string{"one", "two"} {
		tok, err := s.Next(ctx)
		if err != nil || tok != want {
			t.Fatalf("expected %q, got %q (%v)", want, tok, err)
		}
	}
	if _, err := s.Next(ctx); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if _, err := s.Next(ctx); err != io.EOF {
		t.Fatalf("expected sticky EOF, got %v", err)
	}
}

func TestChanStreamCloseUnblocksProducer(t *testing.T) {
	closed := false
	s := NewChanStream(0, func() error { closed = true; return nil })
	done := make(chan bool, 1)
	go func() { done <- s.Send(context.Background(), "never read") }()
	_ = s.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected send to fail after close")
		}
	case <-time.After(time.Second):
		t.Fatalf("producer stayed blocked")
	}
	if !closed {
		t.Fatalf("expected closer to run")
	}
}

func TestNewStoryContext(t *testing.T) {
	c := NewStoryContext("sys", "Tell me a story.", 1024)
	if len(c.Messages) != 2 || c.Messages[0].Role != RoleSystem || c.Messages[1].Content != "Tell me a story." {
		t.Fatalf("unexpected messages %+v", c.Messages)
	}
	if c := NewStoryContext("", "hi", 0); len(c.Messages) != 1 {
		t.Fatalf("expected system prompt omitted")
	}
}

func TestRetryAdapterReconnects(t *testing.T) {
	inner := &flakyAdapter{fails: 2, err: errors.New("connection reset")}
	a := NewRetryAdapter(inner, RetryConfig{MaxAttempts: 3, Sleep: func(time.Duration) {}})
	if _, err := a.Stream(context.Background(), Context{}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryAdapterGivesUp(t *testing.T) {
	inner := &flakyAdapter{fails: 5, err: errors.New("down")}
	a := NewRetryAdapter(inner, RetryConfig{MaxAttempts: 2, Sleep: func(time.Duration) {}})
	if _, err := a.Stream(context.Background(), Context{}); err == nil {
		t.Fatalf("expected error")
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", inner.calls)
	}
}

func TestRetryAdapterHonoursRetryAfter(t *testing.T) {
	inner := &flakyAdapter{fails: 1, err: resilience.RateLimitError{Provider: "flaky", RetryAfter: time.Second}}
	var slept []time.Duration
	a := NewRetryAdapter(inner, RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	})
	if _, err := a.Stream(context.Background(), Context{}); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if len(slept) != 1 || slept[0] != 500*time.Millisecond {
		t.Fatalf("expected retry-after capped at max delay, got %v", slept)
	}
}

func TestRetryAdapterStopsOnCancel(t *testing.T) {
	inner := &flakyAdapter{fails: 5, err: errors.New("down")}
	ctx, cancel := context.WithCancel(context.Background())
	a := NewRetryAdapter(inner, RetryConfig{MaxAttempts: 5, Sleep: func(time.Duration) { cancel() }})
	if _, err := a.Stream(ctx, Context{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 call, got %d", inner.calls)
	}
}

func TestCircuitBreakerAdapterDenies(t *testing.T) {
	inner := &flakyAdapter{fails: 10, err: resilience.RateLimitError{Provider: "flaky"}}
	obs := metrics.NewMemoryObserver()
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(1, time.Minute))
	a.SetObserver(obs)
	if _, err := a.Stream(context.Background(), Context{}); !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if _, err := a.Stream(context.Background(), Context{}); !resilience.IsRateLimit(err) {
		t.Fatalf("expected denial, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected breaker to block second call, got %d calls", inner.calls)
	}
	if DefaultIsRetryable(resilience.RateLimitError{Message: degradedMessage}) {
		t.Fatalf("expected open breaker to be non-retryable")
	}
	if a.State() != resilience.BreakerOpen {
		t.Fatalf("expected open breaker, got %s", a.State())
	}
	var denied, opened int
	for _, ev := range obs.Events {
		switch ev.Name {
		case metrics.EventBreakerDenied:
			denied++
		case metrics.EventBreakerOpen:
			opened++
		}
	}
	if denied != 1 || opened != 1 {
		t.Fatalf("expected one denial and one open event, got %d and %d", denied, opened)
	}
}
