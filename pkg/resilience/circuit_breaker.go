package resilience

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is a vendor throttle response. RetryAfter is the wait the
// vendor asked for, zero when it gave none.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limit"
	}
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	return msg
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// RateLimitFromResponse builds a RateLimitError from a 429 response,
// honouring Retry-After given in seconds or as an HTTP date.
func RateLimitFromResponse(provider string, resp *http.Response, message string) RateLimitError {
	if message == "" {
		message = resp.Status
	}
	return RateLimitError{
		Provider:   provider,
		Message:    message,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// BreakerState is the position of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "closed"
}

// CircuitBreaker stops calls to a vendor after threshold consecutive rate
// limits. Once the cooldown (or the vendor's Retry-After, if longer) has
// passed a single probe call is let through; its outcome closes or reopens
// the breaker. A nil breaker always allows.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
	probing   bool
	probeAt   time.Time
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed. In the half-open state only the
// first caller gets through; a probe that never reports back is replaced
// after another cooldown.
func (c *CircuitBreaker) Allow() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	switch c.stateLocked(now) {
	case BreakerClosed:
		return true
	case BreakerOpen:
		return false
	}
	if c.probing && now.Sub(c.probeAt) < c.cooldown {
		return false
	}
	c.probing = true
	c.probeAt = now
	return true
}

func (c *CircuitBreaker) State() BreakerState {
	if c == nil {
		return BreakerClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(c.now())
}

func (c *CircuitBreaker) OnSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.probing = false
	c.mu.Unlock()
}

// OnError records a failed call and reports whether it opened the breaker.
// Only rate limits count; any other error just ends a running probe.
func (c *CircuitBreaker) OnError(err error) bool {
	if c == nil || err == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	wasProbe := c.probing
	c.probing = false
	var rl RateLimitError
	if !errors.As(err, &rl) {
		return false
	}
	c.failures++
	if !wasProbe && (c.failures < c.threshold || c.stateLocked(now) == BreakerOpen) {
		return false
	}
	wait := c.cooldown
	if rl.RetryAfter > wait {
		wait = rl.RetryAfter
	}
	c.openUntil = now.Add(wait)
	return true
}

func (c *CircuitBreaker) stateLocked(now time.Time) BreakerState {
	switch {
	case c.openUntil.IsZero():
		return BreakerClosed
	case now.Before(c.openUntil):
		return BreakerOpen
	}
	return BreakerHalfOpen
}
