// Package stt maintains the live link to the streaming transcription
// provider: connection lifecycle, keepalive, reconnect with backoff, and
// audio buffering during reconnects.
package stt

import "context"

// Options configures a live transcription connection. The gateway fixes the
// wire format; only language and endpointing thresholds vary in practice.
type Options struct {
	Encoding       string
	SampleRate     int
	Channels       int
	Language       string
	Model          string
	InterimResults bool
	UtteranceEndMs int
	EndpointingMs  int
}

// DefaultOptions matches the gateway's fixed inbound audio format.
func DefaultOptions() Options {
	return Options{
		Encoding:       "linear16",
		SampleRate:     16000,
		Channels:       1,
		Language:       "en-US",
		Model:          "nova-2",
		InterimResults: true,
		UtteranceEndMs: 500,
		EndpointingMs:  500,
	}
}

// Word carries word-level timing and confidence from the provider.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Result is one transcription result, interim or final. A result is treated
// as utterance-final only when both IsFinal and SpeechFinal are set.
type Result struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
	Confidence  float64
	Words       []Word
}

// Final reports whether this result closes an utterance.
func (r Result) Final() bool {
	return r.IsFinal && r.SpeechFinal && r.Text != ""
}

// EventType discriminates connection events.
type EventType int

const (
	// EventTranscript carries a Result, interim or final.
	EventTranscript EventType = iota
	// EventSpeechStarted signals the provider's voice-activity onset.
	EventSpeechStarted
	// EventClosed signals the connection is gone; Err holds the cause when
	// the close was not caller-initiated.
	EventClosed
)

// Event is one message from a live connection's read loop.
type Event struct {
	Type   EventType
	Result *Result
	Err    error
}

// Conn is a single live transcription connection. Events delivers the read
// loop's output; the channel is closed after EventClosed.
type Conn interface {
	Send(data []byte) error
	KeepAlive() error
	Events() <-chan Event
	Close() error
}

// Provider dials live transcription connections. A successful Dial returns
// an open connection.
type Provider interface {
	Dial(ctx context.Context, opts Options) (Conn, error)
}
