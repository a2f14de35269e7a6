package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrDraining is returned when a session is started during shutdown.
var ErrDraining = errors.New("registry is draining")

// ErrDrainTimeout is returned by Drain when sessions had to be cancelled.
var ErrDrainTimeout = errors.New("drain timeout: sessions cancelled")

type running struct {
	session *Session
	cancel  context.CancelFunc
}

// SessionRegistry tracks running sessions so shutdown can wait for them.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]running
	draining bool
	// idle is closed when the last session leaves; nil while empty.
	idle chan struct{}
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]running)}
}

// Run registers s, runs it under a cancellable context and removes it when
// it returns. A session that cannot be registered (draining registry,
// duplicate id) never runs; its sink is closed with the refusal instead.
func (r *SessionRegistry) Run(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := r.add(s, cancel); err != nil {
		cancel()
		_ = s.sink.Close(err)
		return err
	}
	defer r.Remove(s.ID())
	return s.Run(ctx)
}

func (r *SessionRegistry) add(s *Session, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return ErrDraining
	}
	if _, dup := r.sessions[s.ID()]; dup {
		return fmt.Errorf("duplicate session id %s", s.ID())
	}
	if len(r.sessions) == 0 {
		r.idle = make(chan struct{})
	}
	r.sessions[s.ID()] = running{session: s, cancel: cancel}
	return nil
}

func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	return e.session, ok
}

// Remove cancels and forgets the session.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return
	}
	e.cancel()
	delete(r.sessions, id)
	if len(r.sessions) == 0 && r.idle != nil {
		close(r.idle)
		r.idle = nil
	}
}

// IDs returns the running session ids in sorted order.
func (r *SessionRegistry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// CloseAll cancels every running session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.sessions {
		e.cancel()
	}
}

func (r *SessionRegistry) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.sessions))
}

func (r *SessionRegistry) SetDraining(v bool) {
	r.mu.Lock()
	r.draining = v
	r.mu.Unlock()
}

func (r *SessionRegistry) Draining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// WaitIdle blocks until no session is running or ctx ends.
func (r *SessionRegistry) WaitIdle(ctx context.Context) bool {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()
	if idle == nil {
		return true
	}
	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}

// DrainContext stops new sessions and waits for running ones until ctx
// ends, then cancels whatever is left.
func (r *SessionRegistry) DrainContext(ctx context.Context) error {
	r.SetDraining(true)
	if r.WaitIdle(ctx) {
		return nil
	}
	r.CloseAll()
	return ErrDrainTimeout
}

// Drain is DrainContext with a plain timeout.
func (r *SessionRegistry) Drain(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.DrainContext(ctx)
}
