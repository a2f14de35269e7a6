package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDrainTimeout is returned by Stop when the drainer outlives the timeout.
var ErrDrainTimeout = errors.New("drain timeout")

// LifecycleRunner blocks until its context ends, then drains once.
type LifecycleRunner struct {
	drainer Drainer
	hooks   Hooks
	timeout time.Duration

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	stopped chan struct{}
	stopErr error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		drainer: drainer,
		hooks:   hooks,
		timeout: timeout,
		state:   StateNew,
		cancel:  func() {},
		stopped: make(chan struct{}),
	}
}

// Run may be called once. It returns the drain result after ctx ends or
// Stop is called.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.state != StateNew {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("runner: cannot start from state %s", state)
	}
	r.state = StateStarting
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	if !r.hooks.NoBanner {
		PrintBanner(r.hooks.BannerOut)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.transition(StateStarting, StateRunning)
	<-ctx.Done()
	return r.Stop()
}

// Stop cancels Run and drains. Concurrent and repeated calls wait for the
// first drain and return its result.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	r.cancel()
	if r.state == StateDraining || r.state == StateStopped {
		r.mu.Unlock()
		<-r.stopped
		return r.stopErr
	}
	r.state = StateDraining
	r.mu.Unlock()

	err := r.drain()
	if r.hooks.OnStop != nil {
		r.hooks.OnStop()
	}
	r.mu.Lock()
	r.stopErr = err
	r.state = StateStopped
	r.mu.Unlock()
	close(r.stopped)
	return err
}

// Done is closed once the runner has stopped.
func (r *LifecycleRunner) Done() <-chan struct{} { return r.stopped }

func (r *LifecycleRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- r.drainer.Drain(ctx) }()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}

func (r *LifecycleRunner) transition(from, to State) {
	r.mu.Lock()
	if r.state == from {
		r.state = to
	}
	r.mu.Unlock()
}
