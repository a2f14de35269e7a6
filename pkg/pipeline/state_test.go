package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/storyteller/pkg/aggregators"
	"github.com/harunnryd/storyteller/pkg/processors"
	providermock "github.com/harunnryd/storyteller/pkg/providers/mock"
	sinkmock "github.com/harunnryd/storyteller/pkg/transports/mock"
)

func TestStateMachineTransitions(t *testing.T) {
	sm := newStateMachine("s1")
	var seen []StateChange
	sm.AddListener(StateListenerFunc(func(ev StateChange) { seen = append(seen, ev) }))

	if err := sm.Transition(StateDraining, "skip", nil); err == nil {
		t.Fatalf("expected idle to draining to be rejected")
	}
	var ite *InvalidTransitionError
	if err := sm.Transition(StateClosed, "skip", nil); !errors.As(err, &ite) || ite.From != StateIdle {
		t.Fatalf("expected InvalidTransitionError from idle, got %v", err)
	}
	for _, to := range []State{StateStreaming, StateDraining, StateClosed} {
		if err := sm.Transition(to, "ok", nil); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if err := sm.Transition(StateFailed, "late", nil); err == nil {
		t.Fatalf("expected terminal state to reject transitions")
	}
	if len(seen) != 3 || seen[0].SessionID != "s1" || seen[2].To != StateClosed {
		t.Fatalf("unexpected events %+v", seen)
	}
	if !StateClosed.Terminal() || StateDraining.Terminal() {
		t.Fatalf("unexpected terminal flags")
	}
}

func TestFailedReachableFromEveryLiveState(t *testing.T) {
	for _, path := range [][]State{{}, {StateStreaming}, {StateStreaming, StateDraining}} {
		sm := newStateMachine("s")
		for _, st := range path {
			if err := sm.Transition(st, "", nil); err != nil {
				t.Fatalf("setup: %v", err)
			}
		}
		if err := sm.Transition(StateFailed, "boom", errors.New("boom")); err != nil {
			t.Fatalf("expected failed reachable from %s: %v", sm.State(), err)
		}
	}
}

func TestRegistryRunAndDrain(t *testing.T) {
	r := NewSessionRegistry()
	newSession := func(delay time.Duration) *Session {
		src := providermock.NewLLMAdapter(providermock.LLMConfig{Tokens: []string{"Hi.", " Bye."}, Delay: delay})
		synth := processors.NewSynthesizer(providermock.NewTTS(providermock.TTSConfig{}), processors.DefaultSynthesizerConfig())
		return NewSession(SessionConfig{Segmenter: aggregators.DefaultConfig()}, src, synth, sinkmock.New())
	}

	if err := r.Run(context.Background(), newSession(0)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("expected session removed after run, got %d", r.Count())
	}

	slow := newSession(time.Second)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), slow) }()
	deadline := time.Now().Add(time.Second)
	for r.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != slow.ID() {
		t.Fatalf("expected slow session to be listed, got %v", ids)
	}
	if err := r.Drain(20 * time.Millisecond); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout with a slow session, got %v", err)
	}
	if err := <-done; err == nil {
		t.Fatalf("expected cancelled session to fail")
	}
	if err := r.Run(context.Background(), newSession(0)); !errors.Is(err, ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
	if !r.WaitIdle(context.Background()) || r.Count() != 0 {
		t.Fatalf("expected registry to be idle")
	}
}

func TestRegistryDuplicateIDClosesSink(t *testing.T) {
	r := NewSessionRegistry()
	newSession := func(delay time.Duration, sink *sinkmock.Sink) *Session {
		src := providermock.NewLLMAdapter(providermock.LLMConfig{Tokens: []string{"Hi."}, Delay: delay})
		synth := processors.NewSynthesizer(providermock.NewTTS(providermock.TTSConfig{}), processors.DefaultSynthesizerConfig())
		return NewSession(SessionConfig{ID: "dup", Segmenter: aggregators.DefaultConfig()}, src, synth, sink)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, newSession(time.Second, sinkmock.New())) }()
	deadline := time.Now().Add(time.Second)
	for r.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second := sinkmock.New()
	err := r.Run(context.Background(), newSession(0, second))
	if err == nil {
		t.Fatalf("expected duplicate id to be refused")
	}
	closed, cause := second.Closed()
	if !closed || cause == nil || cause.Error() != err.Error() {
		t.Fatalf("expected sink closed with the refusal, got closed=%v cause=%v", closed, cause)
	}
	if len(second.Chunks()) != 0 {
		t.Fatalf("expected no chunks written")
	}
	cancel()
	<-done
}
