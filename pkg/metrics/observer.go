package metrics

import "time"

// MetricsEvent is one pipeline measurement. Tags are label-like strings and
// always carry session_id for session-scoped events; Fields hold free-form
// detail such as utterance text length.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Tag returns the tag value for key, or "".
func (e MetricsEvent) Tag(key string) string { return e.Tags[key] }

func (e MetricsEvent) SessionID() string { return e.Tags[TagSessionID] }

// Terminal reports whether the event ends a session.
func (e MetricsEvent) Terminal() bool {
	return e.Name == EventSessionEnd || e.Name == EventSessionFailed
}

// Lifecycle reports whether the event starts or ends a session.
func (e MetricsEvent) Lifecycle() bool {
	return e.Name == EventSessionStart || e.Terminal()
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(MetricsEvent)

func (f ObserverFunc) RecordEvent(ev MetricsEvent) { f(ev) }

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
