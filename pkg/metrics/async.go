package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// terminalWait bounds how long a session end event may block a full buffer.
const terminalWait = 100 * time.Millisecond

// AsyncObserver moves observer work off the pipeline goroutines. When the
// buffer is full ordinary events are dropped and counted; session end events
// wait briefly instead, since downstream observers free per-session state
// on them.
type AsyncObserver struct {
	inner   Observer
	ch      chan MetricsEvent
	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: inner,
		ch:    make(chan MetricsEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
		return
	default:
	}
	if ev.Terminal() {
		t := time.NewTimer(terminalWait)
		defer t.Stop()
		select {
		case a.ch <- ev:
			return
		case <-t.C:
		}
	}
	a.dropped.Add(1)
}

func (a *AsyncObserver) Dropped() int64 { return a.dropped.Load() }

// Close stops intake and waits until buffered events were delivered.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncObserver) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
}
