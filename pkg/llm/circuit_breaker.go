package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/storyteller/pkg/metrics"
	"github.com/harunnryd/storyteller/pkg/resilience"
)

const degradedMessage = "degraded"

// CircuitBreakerAdapter stops opening new token streams while the upstream
// keeps answering with rate limits. A denied call fails fast with a
// RateLimitError whose message is "degraded".
type CircuitBreakerAdapter struct {
	inner   Adapter
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer

	mu   sync.Mutex
	last resilience.BreakerState
}

func NewCircuitBreakerAdapter(inner Adapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerAdapter{inner: inner, breaker: breaker, last: resilience.BreakerClosed}
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

// SetObserver allows metrics emission for breaker events.
func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) { a.obs = obs }

// State reports the wrapped breaker's state.
func (a *CircuitBreakerAdapter) State() resilience.BreakerState { return a.breaker.State() }

func (a *CircuitBreakerAdapter) Stream(ctx context.Context, input Context) (TokenStream, error) {
	if !a.breaker.Allow() {
		a.observe()
		a.record(metrics.EventBreakerDenied)
		return nil, resilience.RateLimitError{Provider: a.Name(), Message: degradedMessage}
	}
	stream, err := a.inner.Stream(ctx, input)
	if err != nil {
		if resilience.IsRateLimit(err) {
			a.record(metrics.EventRateLimit)
		}
		a.breaker.OnError(err)
		a.observe()
		return nil, err
	}
	a.breaker.OnSuccess()
	a.observe()
	return stream, nil
}

// observe emits breaker_open or breaker_close when the breaker moved
// between open and closed since the last call. Half-open counts as open.
func (a *CircuitBreakerAdapter) observe() {
	now := a.breaker.State()
	a.mu.Lock()
	wasClosed := a.last == resilience.BreakerClosed
	a.last = now
	a.mu.Unlock()

	isClosed := now == resilience.BreakerClosed
	switch {
	case wasClosed && !isClosed:
		a.record(metrics.EventBreakerOpen)
	case !wasClosed && isClosed:
		a.record(metrics.EventBreakerClose)
	}
}

func (a *CircuitBreakerAdapter) record(name string) {
	metrics.Emit(a.obs, name, 1, map[string]string{
		metrics.TagProvider:  a.inner.Name(),
		metrics.TagComponent: "llm",
	})
}
