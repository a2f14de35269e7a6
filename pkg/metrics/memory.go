package metrics

import "sync"

// MemoryObserver keeps every event; tests read Events or use the helpers.
type MemoryObserver struct {
	mu     sync.Mutex
	Events []MetricsEvent
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev MetricsEvent) {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
}

func (m *MemoryObserver) Snapshot() []MetricsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricsEvent(nil), m.Events...)
}

// Named returns the events called name, in order.
func (m *MemoryObserver) Named(name string) []MetricsEvent {
	var out []MetricsEvent
	for _, ev := range m.Snapshot() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (m *MemoryObserver) Count(name string) int { return len(m.Named(name)) }
