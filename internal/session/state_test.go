package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineStartsIdle(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, StateIdle, m.Current())
}

func TestStateMachineFullTurnCycle(t *testing.T) {
	m := NewStateMachine()

	require.NoError(t, m.Transition(StateListening))
	require.NoError(t, m.Transition(StateProcessing))
	require.NoError(t, m.Transition(StateSpeaking))
	require.NoError(t, m.Transition(StateIdle))
	assert.Equal(t, StateIdle, m.Current())
}

func TestStateMachineBargeInCycle(t *testing.T) {
	m := NewStateMachine()

	require.NoError(t, m.Transition(StateListening))
	require.NoError(t, m.Transition(StateProcessing))
	require.NoError(t, m.Transition(StateSpeaking))
	require.NoError(t, m.Transition(StateInterruption))
	require.NoError(t, m.Transition(StateListening))
	assert.Equal(t, StateListening, m.Current())
}

func TestStateMachineProcessingToIdle(t *testing.T) {
	m := NewStateMachine()

	require.NoError(t, m.Transition(StateListening))
	require.NoError(t, m.Transition(StateProcessing))
	require.NoError(t, m.Transition(StateIdle))
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		path []State
		to   State
	}{
		{"idle to processing", nil, StateProcessing},
		{"idle to speaking", nil, StateSpeaking},
		{"idle to interruption", nil, StateInterruption},
		{"listening to speaking", []State{StateListening}, StateSpeaking},
		{"listening to idle", []State{StateListening}, StateIdle},
		{"processing to interruption", []State{StateListening, StateProcessing}, StateInterruption},
		{"speaking to listening", []State{StateListening, StateProcessing, StateSpeaking}, StateListening},
		{"interruption to idle", []State{StateListening, StateProcessing, StateSpeaking, StateInterruption}, StateIdle},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewStateMachine()
			for _, s := range tc.path {
				require.NoError(t, m.Transition(s))
			}
			before := m.Current()
			err := m.Transition(tc.to)
			require.Error(t, err)
			assert.Equal(t, before, m.Current(), "state must not change on rejected transition")
		})
	}
}

func TestStateMachineSelfTransitionRejected(t *testing.T) {
	m := NewStateMachine()
	require.NoError(t, m.Transition(StateListening))
	assert.Error(t, m.Transition(StateListening))
}

func TestStateMachineObserversRunInOrder(t *testing.T) {
	m := NewStateMachine()

	var calls []string
	m.Observe(func(from, to State) {
		calls = append(calls, "first:"+string(from)+">"+string(to))
	})
	m.Observe(func(from, to State) {
		calls = append(calls, "second:"+string(from)+">"+string(to))
	})

	require.NoError(t, m.Transition(StateListening))
	require.Equal(t, []string{"first:IDLE>LISTENING", "second:IDLE>LISTENING"}, calls)
}

func TestStateMachineObserversNotCalledOnRejection(t *testing.T) {
	m := NewStateMachine()
	count := 0
	m.Observe(func(from, to State) { count++ })

	require.Error(t, m.Transition(StateSpeaking))
	assert.Zero(t, count)
}

func TestStateMachineResetClearsObservers(t *testing.T) {
	m := NewStateMachine()
	count := 0
	m.Observe(func(from, to State) { count++ })

	require.NoError(t, m.Transition(StateListening))
	assert.Equal(t, 1, count)

	m.Reset()
	assert.Equal(t, StateIdle, m.Current())

	require.NoError(t, m.Transition(StateListening))
	assert.Equal(t, 1, count, "observer must not survive reset")
}
