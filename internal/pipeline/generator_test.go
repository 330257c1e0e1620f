package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchroom/gateway/internal/session"
)

type chatAttempt struct {
	deltas []string
	result *ChatResult
	err    error
}

// scriptedChat replays one scripted attempt per Stream call.
type scriptedChat struct {
	attempts []chatAttempt

	mu          sync.Mutex
	calls       int
	lastPrompt  string
	lastHistory []session.Turn
}

func (s *scriptedChat) Stream(ctx context.Context, systemPrompt string, history []session.Turn, onDelta func(string)) (*ChatResult, error) {
	s.mu.Lock()
	s.lastPrompt = systemPrompt
	s.lastHistory = history
	idx := s.calls
	if idx >= len(s.attempts) {
		idx = len(s.attempts) - 1
	}
	s.calls++
	s.mu.Unlock()

	a := s.attempts[idx]
	for _, d := range a.deltas {
		onDelta(d)
	}
	return a.result, a.err
}

func (s *scriptedChat) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestGeneratorEmitsSentencesInOrderWithTrailingFlush(t *testing.T) {
	chat := &scriptedChat{attempts: []chatAttempt{{
		deltas: []string{"Hel", "lo. How are", " you? I"},
		result: &ChatResult{Text: "Hello. How are you? I", InputTokens: 12, OutputTokens: 7},
	}}}
	g := NewGenerator(chat, "be brief")

	var sentences []string
	result, err := g.Generate(context.Background(), nil, func(s string) { sentences = append(sentences, s) })

	require.NoError(t, err)
	assert.Equal(t, []string{"Hello.", "How are you?", "I"}, sentences)
	assert.Equal(t, "Hello. How are you? I", result.Text)
	assert.Equal(t, int64(12), result.InputTokens)
	assert.Equal(t, int64(7), result.OutputTokens)
	assert.Equal(t, "be brief", chat.lastPrompt)
}

func TestGeneratorPassesHistoryThrough(t *testing.T) {
	chat := &scriptedChat{attempts: []chatAttempt{{result: &ChatResult{Text: "ok"}}}}
	g := NewGenerator(chat, "prompt")

	history := []session.Turn{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, Content: "hello"},
	}
	_, err := g.Generate(context.Background(), history, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, history, chat.lastHistory)
}

func TestGeneratorRetriesWhenNothingStreamedYet(t *testing.T) {
	chat := &scriptedChat{attempts: []chatAttempt{
		{err: errors.New("upstream 500")},
		{deltas: []string{"Second try. "}, result: &ChatResult{Text: "Second try. "}},
	}}
	g := NewGenerator(chat, "prompt")

	var sentences []string
	result, err := g.Generate(context.Background(), nil, func(s string) { sentences = append(sentences, s) })

	require.NoError(t, err)
	assert.Equal(t, 2, chat.callCount())
	assert.Equal(t, []string{"Second try."}, sentences)
	assert.Equal(t, "Second try. ", result.Text)
}

func TestGeneratorDoesNotRetryMidStream(t *testing.T) {
	chat := &scriptedChat{attempts: []chatAttempt{
		{deltas: []string{"partial outp"}, result: &ChatResult{Text: "partial outp"}, err: errors.New("stream cut")},
		{result: &ChatResult{Text: "should not run"}},
	}}
	g := NewGenerator(chat, "prompt")

	var sentences []string
	result, err := g.Generate(context.Background(), nil, func(s string) { sentences = append(sentences, s) })

	require.Error(t, err)
	assert.Equal(t, 1, chat.callCount(), "mid-stream failure must not retry")
	assert.Empty(t, sentences, "no flush on failure")
	require.NotNil(t, result)
	assert.Equal(t, "partial outp", result.Text, "partial text survives for the interrupted turn record")
}

func TestGeneratorDoesNotRetryWhenContextCanceled(t *testing.T) {
	chat := &scriptedChat{attempts: []chatAttempt{
		{err: context.Canceled},
	}}
	g := NewGenerator(chat, "prompt")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, nil, func(string) {})
	require.Error(t, err)
	assert.Equal(t, 1, chat.callCount())
}

func TestGeneratorGivesUpAfterTwoAttempts(t *testing.T) {
	chat := &scriptedChat{attempts: []chatAttempt{
		{err: errors.New("down")},
		{err: errors.New("still down")},
	}}
	g := NewGenerator(chat, "prompt")

	_, err := g.Generate(context.Background(), nil, func(string) {})
	require.Error(t, err)
	assert.Equal(t, 2, chat.callCount())
}
