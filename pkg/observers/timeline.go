package observers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/harunnryd/storyteller/pkg/metrics"
)

const timelineExt = ".jsonl"

type timeline struct {
	file *os.File
	out  *metrics.JSONLObserver
}

// TimelineObserver writes one JSONL file per session, named after the
// sanitized session id. A session's file is closed by its terminal event.
// Events without a session id are ignored.
type TimelineObserver struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*timeline
	failures int
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: strings.TrimSpace(dir), sessions: make(map[string]*timeline)}
}

// Dir returns the directory timelines are written to.
func (o *TimelineObserver) Dir() string { return o.dir }

// RecordEvent implements metrics.Observer.
func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	name := timelineName(ev.SessionID())
	if name == "" || o.dir == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	tl, err := o.openLocked(name)
	if err != nil {
		o.failures++
		return
	}
	tl.out.RecordEvent(ev)
	if ev.Terminal() {
		_ = tl.file.Close()
		delete(o.sessions, name)
	}
}

// Open returns the number of timelines still open.
func (o *TimelineObserver) Open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Failures counts events dropped because their file could not be opened.
func (o *TimelineObserver) Failures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}

// Close closes timelines of sessions that never finished.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for name, tl := range o.sessions {
		errs = append(errs, tl.out.Err(), tl.file.Close())
		delete(o.sessions, name)
	}
	return errors.Join(errs...)
}

func (o *TimelineObserver) openLocked(name string) (*timeline, error) {
	if tl, ok := o.sessions[name]; ok {
		return tl, nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(o.dir, name+timelineExt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open timeline: %w", err)
	}
	tl := &timeline{file: f, out: metrics.NewJSONLObserver(f)}
	o.sessions[name] = tl
	return tl, nil
}

// timelineName maps a session id to a safe file stem: ASCII letters, digits,
// '-' and '_' are kept and everything else becomes '_'.
func timelineName(id string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			return r
		}
		return '_'
	}, strings.TrimSpace(id))
}
