package trace

import "time"

// Call represents one voice session (one transport connection).
type Call struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	RunCount  int        `json:"run_count,omitempty"`
}

// Run represents one pipeline execution: a finalized utterance through
// generation and synthesis.
type Run struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  float64   `json:"duration_ms,omitempty"`
	Transcript  string    `json:"transcript,omitempty"`
	Reply       string    `json:"reply,omitempty"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Status      string    `json:"status"`
	SpanCount   int       `json:"span_count,omitempty"`
}

// Span represents one stage of a run (generate, synthesize).
type Span struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}
