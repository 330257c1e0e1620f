package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultListenURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider dials the Deepgram live transcription WebSocket API.
type DeepgramProvider struct {
	apiKey  string
	baseURL string
	dialer  *websocket.Dialer
}

// NewDeepgramProvider creates a provider for the hosted Deepgram API.
func NewDeepgramProvider(apiKey string) *DeepgramProvider {
	return NewDeepgramProviderURL(apiKey, defaultListenURL)
}

// NewDeepgramProviderURL creates a provider against a custom listen URL,
// used for self-hosted deployments and tests.
func NewDeepgramProviderURL(apiKey, baseURL string) *DeepgramProvider {
	return &DeepgramProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// Dial opens a live transcription connection and starts its read loop.
func (p *DeepgramProvider) Dial(ctx context.Context, opts Options) (Conn, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("deepgram: missing API key")
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("deepgram: parse url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", strconv.Itoa(opts.Channels))
	q.Set("language", opts.Language)
	q.Set("model", opts.Model)
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("utterance_end_ms", strconv.Itoa(opts.UtteranceEndMs))
	q.Set("endpointing", strconv.Itoa(opts.EndpointingMs))
	q.Set("vad_events", "true")
	u.RawQuery = q.Encode()

	header := http.Header{"Authorization": {"Token " + p.apiKey}}
	ws, resp, err := p.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram: dial status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	c := &deepgramConn{
		ws:     ws,
		events: make(chan Event, 32),
	}
	go c.readLoop()
	return c, nil
}

type deepgramConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	events    chan Event
	closeOnce sync.Once
	closed    bool
}

func (c *deepgramConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *deepgramConn) KeepAlive() error {
	return c.writeControl("KeepAlive")
}

func (c *deepgramConn) Events() <-chan Event {
	return c.events
}

// Close sends CloseStream so the provider finalizes any pending utterance,
// then tears down the socket. Idempotent.
func (c *deepgramConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()
		c.writeControl("CloseStream")
		err = c.ws.Close()
	})
	return err
}

func (c *deepgramConn) writeControl(msgType string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(map[string]string{"type": msgType})
}

// deepgramMessage covers the live API message types the gateway consumes.
// Results carries transcript alternatives; SpeechStarted and UtteranceEnd
// are VAD events. Anything else (Metadata, warnings) is ignored.
type deepgramMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []Word  `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (c *deepgramConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.writeMu.Lock()
			explicit := c.closed
			c.writeMu.Unlock()
			if explicit {
				err = nil
			}
			c.events <- Event{Type: EventClosed, Err: err}
			return
		}

		var msg deepgramMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "Results":
			// Malformed payloads without alternatives are dropped at the
			// point of receipt.
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			c.events <- Event{Type: EventTranscript, Result: &Result{
				Text:        alt.Transcript,
				IsFinal:     msg.IsFinal,
				SpeechFinal: msg.SpeechFinal,
				Confidence:  alt.Confidence,
				Words:       alt.Words,
			}}
		case "SpeechStarted":
			c.events <- Event{Type: EventSpeechStarted}
		}
	}
}
