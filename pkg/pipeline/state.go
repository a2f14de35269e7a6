package pipeline

import (
	"sync"
	"time"
)

// State is the lifecycle state of one narration session.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// StateChange represents a state transition event.
type StateChange struct {
	SessionID string
	From      State
	To        State
	Reason    string
	Err       error
	Time      time.Time
}

// StateListener observes session state changes. Listeners are called
// synchronously from the session goroutines and must not block.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(StateChange)

func (f StateListenerFunc) OnStateChange(ev StateChange) { f(ev) }

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

var validTransitions = map[State][]State{
	StateIdle:      {StateStreaming, StateFailed},
	StateStreaming: {StateDraining, StateFailed},
	StateDraining:  {StateClosed, StateFailed},
}

type stateMachine struct {
	mu        sync.RWMutex
	sessionID string
	current   State
	listeners []StateListener
}

func newStateMachine(sessionID string) *stateMachine {
	return &stateMachine{sessionID: sessionID, current: StateIdle}
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *stateMachine) AddListener(l StateListener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Transition moves to state with validation and notifies listeners outside
// the lock.
func (m *stateMachine) Transition(to State, reason string, cause error) error {
	m.mu.Lock()
	from := m.current
	if !transitionValid(from, to) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.current = to
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	ev := StateChange{
		SessionID: m.sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
		Err:       cause,
		Time:      time.Now(),
	}
	for _, l := range listeners {
		l.OnStateChange(ev)
	}
	return nil
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
