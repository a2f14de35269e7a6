package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type drainFunc func() error

func (f drainFunc) Drain(context.Context) error { return f() }

func TestLifecycleRunnerDrainsOnCancel(t *testing.T) {
	var drained, started, stopped atomic.Bool
	r := NewLifecycleRunner(drainFunc(func() error {
		drained.Store(true)
		return nil
	}), Hooks{
		OnStart:  func() { started.Store(true) },
		OnStop:   func() { stopped.Store(true) },
		NoBanner: true,
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if r.State() != StateRunning {
		t.Fatalf("expected running, got %s", r.State())
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if !started.Load() || !drained.Load() || !stopped.Load() {
		t.Fatalf("expected start hook, drain and stop hook to run")
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected second run to fail")
	}
}

func TestLifecycleRunnerDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewLifecycleRunner(drainFunc(func() error {
		<-block
		return nil
	}), Hooks{NoBanner: true}, 10*time.Millisecond)
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected ErrDrainTimeout, got %v", err)
	}
}

func TestLifecycleRunnerReportsDrainError(t *testing.T) {
	boom := errors.New("boom")
	r := NewLifecycleRunner(drainFunc(func() error { return boom }), Hooks{NoBanner: true}, time.Second)
	if err := r.Stop(); !errors.Is(err, boom) {
		t.Fatalf("expected drain error, got %v", err)
	}
	if err := r.Stop(); !errors.Is(err, boom) {
		t.Fatalf("expected stop to be idempotent, got %v", err)
	}
}

func TestLifecycleRunnerStopWaitsForFirstDrain(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	r := NewLifecycleRunner(drainFunc(func() error {
		calls.Add(1)
		<-release
		return nil
	}), Hooks{NoBanner: true}, time.Second)

	first := make(chan error, 1)
	go func() { first <- r.Stop() }()
	deadline := time.Now().Add(time.Second)
	for r.State() != StateDraining && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	second := make(chan error, 1)
	go func() { second <- r.Stop() }()
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("expected clean second stop, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one drain, got %d", calls.Load())
	}
	select {
	case <-r.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
}
