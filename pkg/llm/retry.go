package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

// RetryConfig controls retries of opening a token stream. Tokens already
// delivered are never replayed, so only the connect step is retried.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
	// Sleep replaces the context-aware timer wait when set.
	Sleep func(time.Duration)
}

// RetryAdapter reopens the upstream stream on transient connect failures.
type RetryAdapter struct {
	inner Adapter
	cfg   RetryConfig
}

func NewRetryAdapter(inner Adapter, cfg RetryConfig) *RetryAdapter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return &RetryAdapter{inner: inner, cfg: cfg}
}

func (a *RetryAdapter) Name() string { return a.inner.Name() }

func (a *RetryAdapter) Stream(ctx context.Context, input Context) (TokenStream, error) {
	var lastErr error
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < a.cfg.MaxAttempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stream, err := a.inner.Stream(ctx, input)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !a.cfg.IsRetryable(err) || i == a.cfg.MaxAttempts-1 {
			break
		}
		if werr := a.wait(ctx, a.delayFor(err, i, r)); werr != nil {
			return nil, werr
		}
	}
	return nil, errorsx.Wrap(fmt.Errorf("llm connect failed: %w", lastErr), errorsx.ReasonSourceConnect)
}

// DefaultIsRetryable retries everything except cancellation and an open breaker.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errorsx.HasReason(err, errorsx.ReasonSynthCircuitOpen) {
		return false
	}
	var rl resilience.RateLimitError
	if errors.As(err, &rl) && rl.Message == degradedMessage {
		return false
	}
	return true
}

func backoffDelay(base, max time.Duration, jitter float64, attempt int, r *rand.Rand) time.Duration {
	pow := math.Pow(2, float64(attempt))
	d := time.Duration(float64(base) * pow)
	if d > max {
		d = max
	}
	if jitter > 0 {
		j := time.Duration(float64(d) * jitter * r.Float64())
		return d + j
	}
	return d
}

// delayFor honours a provider Retry-After hint, never beyond MaxDelay.
func (a *RetryAdapter) delayFor(err error, attempt int, r *rand.Rand) time.Duration {
	delay := backoffDelay(a.cfg.BaseDelay, a.cfg.MaxDelay, a.cfg.Jitter, attempt, r)
	var rl resilience.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > delay {
		delay = min(rl.RetryAfter, a.cfg.MaxDelay)
	}
	return delay
}

func (a *RetryAdapter) wait(ctx context.Context, d time.Duration) error {
	if a.cfg.Sleep != nil {
		a.cfg.Sleep(d)
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
