package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/harunnryd/storyteller/pkg/errorsx"
	"github.com/harunnryd/storyteller/pkg/pipeline"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisherWritesKeyedEvents(t *testing.T) {
	w := &fakeWriter{}
	p := NewWithWriter(w, "storyteller.sessions")
	cause := errorsx.NewStageError(errorsx.StageSynth, 2, errorsx.Wrap(errors.New("boom"), errorsx.ReasonSynthBackend))
	p.OnStateChange(pipeline.StateChange{
		SessionID: "s-1",
		From:      pipeline.StateStreaming,
		To:        pipeline.StateFailed,
		Reason:    "synth",
		Err:       cause,
		Time:      time.Now(),
	})

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "s-1" {
		t.Fatalf("expected session key, got %q", msg.Key)
	}
	var ev SessionEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.From != "streaming" || ev.To != "failed" {
		t.Fatalf("unexpected transition %s -> %s", ev.From, ev.To)
	}
	if ev.Stage != "synth" || ev.ReasonCode != string(errorsx.ReasonSynthBackend) {
		t.Fatalf("expected stage and reason, got %+v", ev)
	}
	if string(msg.Headers[0].Value) != "session_failed" {
		t.Fatalf("unexpected header %q", msg.Headers[0].Value)
	}
}

func TestPublisherDisabledIsLogOnly(t *testing.T) {
	p := New(Config{Enabled: false, Topic: "t"})
	if p.Enabled() {
		t.Fatalf("expected disabled publisher")
	}
	if err := p.Publish(context.Background(), SessionEvent{SessionID: "x"}); err != nil {
		t.Fatalf("expected nil error in log-only mode, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublisherSurvivesWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewWithWriter(w, "t")
	p.OnStateChange(pipeline.StateChange{SessionID: "s", From: pipeline.StateIdle, To: pipeline.StateStreaming, Time: time.Now()})
	if err := p.Publish(context.Background(), SessionEvent{SessionID: "s"}); err == nil {
		t.Fatalf("expected write error from Publish")
	}
	_ = p.Close()
	if !w.closed {
		t.Fatalf("expected writer closed")
	}
}
