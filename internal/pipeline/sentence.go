package pipeline

import "strings"

// SentenceBuffer accumulates streamed text chunks and splits them at
// sentence boundaries so synthesis can start before the response finishes.
// The boundary heuristic (terminal punctuation followed by whitespace) is a
// pure string strategy; swap splitAtSentence to change it.
type SentenceBuffer struct {
	buf strings.Builder
}

// Add appends a chunk and returns any text completed up to the last sentence
// boundary, or "" when no boundary has been reached yet.
func (s *SentenceBuffer) Add(chunk string) string {
	s.buf.WriteString(chunk)
	text := s.buf.String()
	complete, remainder := splitAtSentence(text)
	if complete == "" {
		return ""
	}
	s.buf.Reset()
	s.buf.WriteString(remainder)
	return complete
}

// Flush returns any trailing partial sentence once the stream ends.
func (s *SentenceBuffer) Flush() string {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return text
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// splitAtSentence finds the last sentence boundary in text. A boundary is a
// sentence ender (.!?) followed by whitespace. Returns (complete, remainder);
// if no boundary, returns ("", text).
func splitAtSentence(text string) (string, string) {
	lastIdx := -1
	for i := range len(text) - 1 {
		if sentenceEnders[text[i]] && isWhitespace(text[i+1]) {
			lastIdx = i + 1
		}
	}
	if lastIdx < 0 {
		return "", text
	}
	return strings.TrimSpace(text[:lastIdx]), text[lastIdx:]
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t' || ch == '\r'
}
