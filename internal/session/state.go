package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pitchroom/gateway/internal/metrics"
)

// State is the conversation turn-taking state of a session.
type State string

const (
	StateIdle         State = "IDLE"
	StateListening    State = "LISTENING"
	StateProcessing   State = "PROCESSING"
	StateSpeaking     State = "SPEAKING"
	StateInterruption State = "INTERRUPTION"
)

// legalTransitions defines the only moves the machine accepts. Everything
// else is rejected and logged. PROCESSING→IDLE is the error/empty-response
// path; there is no terminal state.
var legalTransitions = map[State][]State{
	StateIdle:         {StateListening},
	StateListening:    {StateProcessing},
	StateProcessing:   {StateSpeaking, StateIdle},
	StateSpeaking:     {StateIdle, StateInterruption},
	StateInterruption: {StateListening},
}

// Observer is invoked synchronously with (from, to) on every successful
// transition, before Transition returns.
type Observer func(from, to State)

// StateMachine validates conversation state transitions and notifies
// observers in registration order. Safe for concurrent use; observers run
// with the machine lock held, so Reset cannot race a transition in flight.
type StateMachine struct {
	mu        sync.Mutex
	current   State
	observers []Observer
}

// NewStateMachine creates a machine in IDLE.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateIdle}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Observe registers an observer for future transitions.
func (m *StateMachine) Observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Transition moves the machine to the given state. Illegal transitions are
// rejected with an error and logged, never fatal.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if !transitionAllowed(from, to) {
		metrics.InvalidTransitions.Inc()
		slog.Warn("invalid state transition rejected", "from", from, "to", to)
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}

	m.current = to
	for _, fn := range m.observers {
		fn(from, to)
	}
	return nil
}

// Reset returns the machine to IDLE and clears all observers. Intended for
// session teardown only.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = StateIdle
	m.observers = nil
}

func transitionAllowed(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
