package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

// value returns the first sample of a counter or gauge family whose labels
// include every pair in labels.
func value(t *testing.T, p *PrometheusObserver, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := p.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestPrometheusObserverCountsSessions(t *testing.T) {
	p := NewPrometheusObserver()
	p.RecordEvent(MetricsEvent{Name: EventSessionStart})
	p.RecordEvent(MetricsEvent{Name: EventSessionStart})
	p.RecordEvent(MetricsEvent{Name: EventSessionEnd, Value: 1500})
	p.RecordEvent(MetricsEvent{Name: EventSessionFailed, Tags: map[string]string{TagStage: "synth"}})
	p.RecordEvent(MetricsEvent{Name: EventUtterance, Tags: map[string]string{TagForced: "true", TagBreak: "space"}})
	p.RecordEvent(MetricsEvent{Name: EventAudioBytes, Value: 100})

	if got := value(t, p, "storyteller_sessions_total", nil); got != 2 {
		t.Fatalf("expected 2 sessions, got %v", got)
	}
	if got := value(t, p, "storyteller_sessions_active", nil); got != 0 {
		t.Fatalf("expected 0 active sessions, got %v", got)
	}
	if got := value(t, p, "storyteller_sessions_failed_total", map[string]string{"stage": "synth"}); got != 1 {
		t.Fatalf("expected 1 synth failure, got %v", got)
	}
	if got := value(t, p, "storyteller_utterances_total", map[string]string{"forced": "true", "break": "space"}); got != 1 {
		t.Fatalf("expected 1 forced utterance, got %v", got)
	}
	if got := value(t, p, "storyteller_audio_bytes_total", nil); got != 100 {
		t.Fatalf("expected 100 audio bytes, got %v", got)
	}
}

func TestSamplingObserver(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0.5)
	for i := 0; i < 10; i++ {
		s.RecordEvent(MetricsEvent{Name: "x"})
	}
	if len(mem.Events) != 5 {
		t.Fatalf("expected 5 sampled events, got %d", len(mem.Events))
	}
	none := NewMemoryObserver()
	NewSamplingObserver(none, 0).RecordEvent(MetricsEvent{Name: "x"})
	if len(none.Events) != 0 {
		t.Fatalf("expected rate 0 to drop everything")
	}
}

func TestAsyncObserverDelivers(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 4)
	Emit(a, EventUtterance, 1, nil)
	deadline := time.Now().Add(time.Second)
	for {
		mem.mu.Lock()
		n := len(mem.Events)
		mem.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected event delivered asynchronously")
		}
		time.Sleep(time.Millisecond)
	}
	a.Close()
	a.RecordEvent(MetricsEvent{Name: "late"})
}

func TestEmitNilObserver(t *testing.T) {
	Emit(nil, EventUtterance, 1, nil)
}

func TestSamplingKeepsLifecycleEvents(t *testing.T) {
	mem := NewMemoryObserver()
	s := NewSamplingObserver(mem, 0)
	s.RecordEvent(MetricsEvent{Name: EventUtterance})
	s.RecordEvent(MetricsEvent{Name: EventSessionStart})
	s.RecordEvent(MetricsEvent{Name: EventSessionFailed})
	if mem.Count(EventUtterance) != 0 {
		t.Fatalf("expected utterance sampled out")
	}
	if mem.Count(EventSessionStart) != 1 || mem.Count(EventSessionFailed) != 1 {
		t.Fatalf("expected lifecycle events kept, got %d events", len(mem.Snapshot()))
	}
}

func TestJSONLObserverWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONLObserver(&buf)
	o.RecordEvent(MetricsEvent{
		Name:  EventSynthDone,
		Time:  time.Unix(10, 0),
		Value: 42,
		Tags:  map[string]string{TagSessionID: "s-1", TagProvider: "mock"},
	})
	var rec Record
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Event != EventSynthDone || rec.SessionID != "s-1" || rec.Value != 42 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, ok := rec.Tags[TagSessionID]; ok || rec.Tags[TagProvider] != "mock" {
		t.Fatalf("expected session id lifted out of tags, got %v", rec.Tags)
	}
	if o.Err() != nil {
		t.Fatalf("unexpected write error: %v", o.Err())
	}
}

type blockingObserver struct {
	release chan struct{}
	mem     *MemoryObserver
}

func (b *blockingObserver) RecordEvent(ev MetricsEvent) {
	<-b.release
	b.mem.RecordEvent(ev)
}

func TestAsyncObserverDropsOrdinaryEventsWhenFull(t *testing.T) {
	inner := &blockingObserver{release: make(chan struct{}), mem: NewMemoryObserver()}
	a := NewAsyncObserver(inner, 1)
	// The loop holds the first event; the second fills the buffer.
	a.RecordEvent(MetricsEvent{Name: "a"})
	deadline := time.Now().Add(time.Second)
	for len(a.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	a.RecordEvent(MetricsEvent{Name: "b"})
	a.RecordEvent(MetricsEvent{Name: "c"})
	if a.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", a.Dropped())
	}
	close(inner.release)
	a.Close()
	if got := len(inner.mem.Snapshot()); got != 2 {
		t.Fatalf("expected 2 delivered events after close, got %d", got)
	}
}
