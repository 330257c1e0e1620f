package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentenceBufferNoBoundaryYet(t *testing.T) {
	var sb SentenceBuffer
	assert.Empty(t, sb.Add("Our pricing"))
	assert.Empty(t, sb.Add(" starts at"))
	assert.Equal(t, "Our pricing starts at", sb.Flush())
}

func TestSentenceBufferSplitsOnBoundary(t *testing.T) {
	var sb SentenceBuffer
	assert.Empty(t, sb.Add("That makes sense"))
	assert.Equal(t, "That makes sense.", sb.Add(". But what"))
	assert.Equal(t, "But what else", sb.Flush())
}

func TestSentenceBufferBoundaryNeedsTrailingWhitespace(t *testing.T) {
	var sb SentenceBuffer
	// A terminal period at the very end of the buffer is not yet a boundary;
	// the next chunk may continue the token.
	assert.Empty(t, sb.Add("It costs $3."))
	assert.Empty(t, sb.Add("50 per seat"))
	assert.Equal(t, "It costs $3.50 per seat", sb.Flush())
}

func TestSentenceBufferMultipleSentencesInOneChunk(t *testing.T) {
	var sb SentenceBuffer
	got := sb.Add("Sure. That works! Shall we proceed? Let me")
	assert.Equal(t, "Sure. That works! Shall we proceed?", got)
	assert.Equal(t, "Let me", sb.Flush())
}

func TestSentenceBufferQuestionAndExclamation(t *testing.T) {
	var sb SentenceBuffer
	assert.Equal(t, "Really?", sb.Add("Really? I"))
	assert.Equal(t, "I see!", sb.Add(" see!\nGood"))
	assert.Equal(t, "Good", sb.Flush())
}

func TestSentenceBufferFlushTrimsAndResets(t *testing.T) {
	var sb SentenceBuffer
	sb.Add("trailing  ")
	assert.Equal(t, "trailing", sb.Flush())
	assert.Empty(t, sb.Flush())
}

func TestSplitAtSentence(t *testing.T) {
	cases := []struct {
		in        string
		complete  string
		remainder string
	}{
		{"", "", ""},
		{"no boundary", "", "no boundary"},
		{"done. next", "done.", "next"},
		{"a. b. c", "a. b.", "c"},
		{"end.", "", "end."},
		{"tab.\tnext", "tab.", "next"},
	}
	for _, tc := range cases {
		complete, remainder := splitAtSentence(tc.in)
		assert.Equal(t, tc.complete, complete, "complete for %q", tc.in)
		if tc.complete != "" {
			assert.Equal(t, tc.remainder, strings.TrimSpace(remainder), "remainder for %q", tc.in)
		}
	}
}
