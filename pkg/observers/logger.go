package observers

import (
	"context"
	"log/slog"
	"sort"

	"github.com/harunnryd/storyteller/pkg/metrics"
)

// LoggerObserver writes metrics events to a structured logger. Session
// lifecycle events log at info, failures and throttling at warn, everything
// else at debug.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log.With(slog.String("component", "metrics"))}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	level := levelFor(ev.Name)
	ctx := context.Background()
	if !o.log.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 2+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs, slog.String("event", ev.Name))
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for _, k := range sortedKeys(ev.Tags) {
		attrs = append(attrs, slog.String(k, ev.Tags[k]))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(ctx, level, ev.Name, attrs...)
}

func levelFor(name string) slog.Level {
	switch name {
	case metrics.EventSessionFailed, metrics.EventSynthSkipped, metrics.EventRateLimit, metrics.EventBreakerOpen:
		return slog.LevelWarn
	case metrics.EventSessionStart, metrics.EventSessionEnd, metrics.EventBreakerClose:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MultiObserver fans every event out to its observers in order.
type MultiObserver struct {
	list []metrics.Observer
}

// NewMultiObserver drops nil entries.
func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, obs := range list {
		m.Add(obs)
	}
	return m
}

func (m *MultiObserver) Add(obs metrics.Observer) {
	if obs != nil {
		m.list = append(m.list, obs)
	}
}

func (m *MultiObserver) Len() int { return len(m.list) }

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		obs.RecordEvent(ev)
	}
}
