package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(0, -time.Second)
	if p.MaxAttempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", p.MaxAttempts)
	}
	if p.Backoff != 0 {
		t.Fatalf("expected zero backoff, got %s", p.Backoff)
	}
	if p.OnExhausted != FailFatal {
		t.Fatalf("expected fatal mode by default")
	}
}

func TestRetryPolicyRetriesOnce(t *testing.T) {
	p := NewRetryPolicy(2, 0)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyReturnsLastError(t *testing.T) {
	p := NewRetryPolicy(2, 0)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("fail")
	})
	if err == nil || err.Error() != "fail" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	p := NewRetryPolicy(5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("fail")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error")
		}
	case <-time.After(time.Second):
		t.Fatalf("retry did not stop on cancel")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancel, got %d", calls)
	}
}

func TestParseFailureMode(t *testing.T) {
	if ParseFailureMode("skip") != FailSkip {
		t.Fatalf("expected skip")
	}
	if ParseFailureMode("fatal") != FailFatal || ParseFailureMode("") != FailFatal {
		t.Fatalf("expected fatal")
	}
}

func TestCircuitBreakerOpensOnRateLimit(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.OnError(errors.New("plain"))
	cb.OnError(errors.New("plain"))
	if !cb.Allow() {
		t.Fatalf("expected plain errors to be ignored")
	}
	if cb.OnError(RateLimitError{Provider: "openai"}) {
		t.Fatalf("expected first rate limit below threshold")
	}
	if !cb.OnError(RateLimitError{Provider: "openai"}) {
		t.Fatalf("expected second rate limit to open the breaker")
	}
	if cb.Allow() || cb.State() != BreakerOpen {
		t.Fatalf("expected breaker open after rate limits")
	}
	cb.OnSuccess()
	if !cb.Allow() || cb.State() != BreakerClosed {
		t.Fatalf("expected breaker closed after success")
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = func() time.Time { return now }

	cb.OnError(RateLimitError{})
	now = now.Add(11 * time.Second)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("expected half open after cooldown, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatalf("expected one probe allowed")
	}
	if cb.Allow() {
		t.Fatalf("expected concurrent callers held back during the probe")
	}
	if !cb.OnError(RateLimitError{}) {
		t.Fatalf("expected failed probe to reopen")
	}
	if cb.Allow() {
		t.Fatalf("expected breaker open after failed probe")
	}

	now = now.Add(11 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected second probe")
	}
	cb.OnSuccess()
	if cb.State() != BreakerClosed || !cb.Allow() {
		t.Fatalf("expected successful probe to close the breaker")
	}
}

func TestCircuitBreakerHonoursRetryAfter(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }
	cb.OnError(RateLimitError{RetryAfter: time.Minute})
	now = now.Add(30 * time.Second)
	if cb.Allow() {
		t.Fatalf("expected breaker held open for the vendor's retry-after")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ParseRetryAfter("7", now); got != 7*time.Second {
		t.Fatalf("expected 7s, got %v", got)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got := ParseRetryAfter(date, now); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	if ParseRetryAfter("soon", now) != 0 || ParseRetryAfter("", now) != 0 {
		t.Fatalf("expected zero for unusable values")
	}
}
