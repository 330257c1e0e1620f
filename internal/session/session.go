// Package session holds the per-connection conversation state: the turn
// history, the turn-taking state machine, and the outbound event channel to
// the caller's transport.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation. Immutable once appended except
// for Interrupted, which is set after the fact when a barge-in cuts off an
// in-flight assistant turn.
type Turn struct {
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Interrupted bool      `json:"interrupted,omitempty"`
}

// Transport is the caller's duplex connection, borrowed by the session. The
// implementation serializes writes and reports open/closed state; the session
// never manages the transport lifecycle.
type Transport interface {
	// WriteEvent delivers one structured JSON event, in call order.
	WriteEvent(event map[string]any) error
	// WriteBinary delivers one raw audio frame.
	WriteBinary(data []byte) error
	// Open reports whether the transport still accepts writes.
	Open() bool
}

// Session is the per-connection state container. It owns the state machine
// and the turn history exclusively; everything else in the pipeline holds a
// reference to it for history reads and outbound delivery.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Machine   *StateMachine

	transport Transport

	mu    sync.Mutex
	turns []Turn
}

// New creates a session bound to the given transport. The state machine
// starts in IDLE and broadcasts every transition to the transport as a
// state_change event.
func New(id, userID string, transport Transport) *Session {
	s := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now(),
		Machine:   NewStateMachine(),
		transport: transport,
	}
	s.Machine.Observe(func(from, to State) {
		s.SendEvent("state_change", map[string]any{
			"from":  string(from),
			"to":    string(to),
			"state": string(to),
		})
	})
	return s
}

// AddTurn appends a turn to the conversation history.
func (s *Session) AddTurn(role Role, content string, interrupted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{
		Role:        role,
		Content:     content,
		Timestamp:   time.Now(),
		Interrupted: interrupted,
	})
}

// MarkLastAssistantInterrupted flags the most recent assistant turn, if any,
// as interrupted. Returns whether a turn was marked.
func (s *Session) MarkLastAssistantInterrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == RoleAssistant {
			s.turns[i].Interrupted = true
			return true
		}
	}
	return false
}

// RecentHistory returns a copy of the last max turns in chronological order.
// A concurrent reader never observes a partially appended turn.
func (s *Session) RecentHistory(max int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if max > 0 && len(s.turns) > max {
		start = len(s.turns) - max
	}
	out := make([]Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

// SendEvent delivers a structured event to the transport. Fire-and-forget:
// dropped silently when the transport is closed, never retried.
func (s *Session) SendEvent(eventType string, fields map[string]any) {
	if !s.transport.Open() {
		return
	}
	event := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		event[k] = v
	}
	event["type"] = eventType
	if err := s.transport.WriteEvent(event); err != nil {
		slog.Debug("event write failed", "session_id", s.ID, "event", eventType, "error", err)
	}
}

// SendBinary delivers a raw audio frame with the same open-check semantics
// as SendEvent.
func (s *Session) SendBinary(data []byte) {
	if !s.transport.Open() {
		return
	}
	if err := s.transport.WriteBinary(data); err != nil {
		slog.Debug("audio write failed", "session_id", s.ID, "error", err)
	}
}

// Cleanup resets the state machine and releases its observers. Idempotent;
// called on disconnect or explicit termination.
func (s *Session) Cleanup() {
	s.Machine.Reset()
}
