package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/storyteller/pkg/metrics"
)

// LatencyObserver logs time-to-first-token and time-to-first-audio once a
// session ends.
type LatencyObserver struct {
	mu       sync.Mutex
	sessions map[string]*trace
	log      *slog.Logger
}

type trace struct {
	start     time.Time
	llmFirst  time.Time
	llmDone   time.Time
	ttsFirst  time.Time
	provider  string
	utterance int
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		sessions: make(map[string]*trace),
		log:      log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ev.Tags[metrics.TagSessionID]
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.sessions[id]
	if t == nil {
		t = &trace{}
		o.sessions[id] = t
	}
	switch ev.Name {
	case metrics.EventSessionStart:
		t.start = ev.Time
	case metrics.EventFirstToken:
		if t.llmFirst.IsZero() {
			t.llmFirst = ev.Time
		}
	case metrics.EventSourceDone:
		t.llmDone = ev.Time
	case metrics.EventUtterance:
		t.utterance++
	case metrics.EventFirstAudio:
		if t.ttsFirst.IsZero() {
			t.ttsFirst = ev.Time
			t.provider = ev.Tags[metrics.TagProvider]
		}
	case metrics.EventSessionEnd, metrics.EventSessionFailed:
		o.logLocked(id, ev, t)
		delete(o.sessions, id)
	}
}

// Pending returns how many sessions are still being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

func (o *LatencyObserver) logLocked(id string, end metrics.MetricsEvent, t *trace) {
	o.log.Info("latency",
		"session_id", id,
		"outcome", end.Name,
		"provider", t.provider,
		"utterances", t.utterance,
		"llm_first_token_ms", durationMs(t.start, t.llmFirst),
		"llm_done_ms", durationMs(t.start, t.llmDone),
		"tts_first_audio_ms", durationMs(t.start, t.ttsFirst),
		"total_ms", durationMs(t.start, end.Time),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
