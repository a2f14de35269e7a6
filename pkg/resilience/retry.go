package resilience

import (
	"context"
	"time"
)

// FailureMode selects what a caller does once every attempt has failed.
type FailureMode int

const (
	// FailFatal surfaces the last error to the caller.
	FailFatal FailureMode = iota
	// FailSkip logs the error and lets the caller continue without a result.
	FailSkip
)

func (m FailureMode) String() string {
	if m == FailSkip {
		return "skip"
	}
	return "fatal"
}

// ParseFailureMode maps "skip"/"continue" to FailSkip, anything else to FailFatal.
func ParseFailureMode(v string) FailureMode {
	switch v {
	case "skip", "continue", "log":
		return FailSkip
	default:
		return FailFatal
	}
}

// RetryPolicy defines retry behavior for transient failures.
// MaxAttempts counts the first call, so 2 means one retry.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	OnExhausted FailureMode
}

func NewRetryPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if backoff < 0 {
		backoff = 0
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: backoff}
}

// Do calls fn until it succeeds, attempts run out, or ctx is done.
// attempt starts at 1.
func (r RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = fn(ctx, i)
		if err == nil {
			return nil
		}
		if i == attempts {
			return err
		}
		if r.Backoff > 0 {
			timer := time.NewTimer(r.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
	}
	return err
}
