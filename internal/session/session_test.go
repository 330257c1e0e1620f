package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records writes and can simulate a closed connection.
type fakeTransport struct {
	events []map[string]any
	binary [][]byte
	closed bool
	err    error
}

func (f *fakeTransport) WriteEvent(event map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeTransport) WriteBinary(data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.binary = append(f.binary, data)
	return nil
}

func (f *fakeTransport) Open() bool { return !f.closed }

func (f *fakeTransport) eventTypes() []string {
	var types []string
	for _, ev := range f.events {
		types = append(types, ev["type"].(string))
	}
	return types
}

func TestSessionEmitsStateChangeEvents(t *testing.T) {
	tr := &fakeTransport{}
	s := New("sess-1", "user-1", tr)

	require.NoError(t, s.Machine.Transition(StateListening))

	require.Len(t, tr.events, 1)
	ev := tr.events[0]
	assert.Equal(t, "state_change", ev["type"])
	assert.Equal(t, "IDLE", ev["from"])
	assert.Equal(t, "LISTENING", ev["to"])
	assert.Equal(t, "LISTENING", ev["state"])
}

func TestSessionSendEventInjectsType(t *testing.T) {
	tr := &fakeTransport{}
	s := New("sess-1", "", tr)

	s.SendEvent("transcript", map[string]any{"text": "hello", "is_final": false})

	require.Len(t, tr.events, 1)
	assert.Equal(t, "transcript", tr.events[0]["type"])
	assert.Equal(t, "hello", tr.events[0]["text"])
}

func TestSessionSendEventDroppedWhenClosed(t *testing.T) {
	tr := &fakeTransport{closed: true}
	s := New("sess-1", "", tr)

	s.SendEvent("transcript", nil)
	s.SendBinary([]byte{1, 2, 3})

	assert.Empty(t, tr.events)
	assert.Empty(t, tr.binary)
}

func TestSessionSendEventSwallowsWriteError(t *testing.T) {
	tr := &fakeTransport{err: errors.New("broken pipe")}
	s := New("sess-1", "", tr)

	// Fire-and-forget: no panic, no retry.
	s.SendEvent("transcript", nil)
}

func TestSessionHistoryOrderAndLimit(t *testing.T) {
	s := New("sess-1", "", &fakeTransport{})

	s.AddTurn(RoleUser, "one", false)
	s.AddTurn(RoleAssistant, "two", false)
	s.AddTurn(RoleUser, "three", false)

	all := s.RecentHistory(0)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Content)
	assert.Equal(t, "three", all[2].Content)

	last2 := s.RecentHistory(2)
	require.Len(t, last2, 2)
	assert.Equal(t, "two", last2[0].Content)
	assert.Equal(t, "three", last2[1].Content)
}

func TestSessionHistoryReturnsCopy(t *testing.T) {
	s := New("sess-1", "", &fakeTransport{})
	s.AddTurn(RoleUser, "original", false)

	got := s.RecentHistory(10)
	got[0].Content = "mutated"

	assert.Equal(t, "original", s.RecentHistory(10)[0].Content)
}

func TestMarkLastAssistantInterrupted(t *testing.T) {
	s := New("sess-1", "", &fakeTransport{})

	assert.False(t, s.MarkLastAssistantInterrupted(), "no assistant turn yet")

	s.AddTurn(RoleAssistant, "first reply", false)
	s.AddTurn(RoleUser, "user speaks", false)

	assert.True(t, s.MarkLastAssistantInterrupted())

	turns := s.RecentHistory(0)
	assert.True(t, turns[0].Interrupted)
	assert.False(t, turns[1].Interrupted)
}

func TestSessionCleanupResetsMachine(t *testing.T) {
	tr := &fakeTransport{}
	s := New("sess-1", "", tr)
	require.NoError(t, s.Machine.Transition(StateListening))

	s.Cleanup()
	assert.Equal(t, StateIdle, s.Machine.Current())

	// Observer cleared: no further state_change events.
	n := len(tr.events)
	require.NoError(t, s.Machine.Transition(StateListening))
	assert.Len(t, tr.events, n)
}
