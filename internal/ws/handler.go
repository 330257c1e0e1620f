// Package ws terminates caller WebSocket connections and runs one voice
// pipeline per connection.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pitchroom/gateway/internal/metrics"
	"github.com/pitchroom/gateway/internal/pipeline"
	"github.com/pitchroom/gateway/internal/prompts"
	"github.com/pitchroom/gateway/internal/session"
	"github.com/pitchroom/gateway/internal/stt"
	"github.com/pitchroom/gateway/internal/trace"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds the shared backend clients for all voice sessions.
type HandlerConfig struct {
	STTProvider   stt.Provider
	STTOptions    stt.Options
	Chat          pipeline.ChatStreamer
	SystemPrompt  string
	Voices        *pipeline.Router[pipeline.Synthesizer]
	Rates         pipeline.Rates
	TraceStore    *trace.Store
	MaxConcurrent int
}

// Handler manages WebSocket voice sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with shared backend clients and
// concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// sessionMetadata is the optional first text frame sent by the client. A
// client that starts straight with binary audio gets defaults for all fields.
type sessionMetadata struct {
	UserID       string `json:"user_id"`
	SystemPrompt string `json:"system_prompt"`
	Voice        string `json:"voice"`
}

// ServeHTTP upgrades the connection and runs the voice session.
// Returns 503 if at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	h.runSession(conn)
}

func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meta, firstAudio, err := readMetadata(conn)
	if err != nil {
		slog.Error("read metadata", "error", err)
		return
	}

	transport := newTransport(conn)
	defer transport.markClosed()

	sessionID := uuid.NewString()
	sess := session.New(sessionID, meta.UserID, transport)

	synth, err := h.cfg.Voices.Route(meta.Voice)
	if err != nil {
		slog.Warn("no synthesis voice available", "session_id", sessionID, "requested", meta.Voice)
		synth = nil
	}

	costs := pipeline.NewCostTracker(h.cfg.Rates)
	tracer := trace.NewTracer(h.cfg.TraceStore, sessionID, meta.UserID)
	defer tracer.Close()

	systemPrompt := meta.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = h.cfg.SystemPrompt
	}
	generator := pipeline.NewGenerator(h.cfg.Chat, prompts.ForSession(systemPrompt))

	orch := pipeline.New(pipeline.Config{
		Session:     sess,
		Provider:    h.cfg.STTProvider,
		STTOptions:  h.cfg.STTOptions,
		Generator:   generator,
		Synthesizer: synth,
		Costs:       costs,
		Tracer:      tracer,
	})
	defer sess.Cleanup()
	defer orch.Stop()

	slog.Info("session started", "session_id", sessionID, "user_id", meta.UserID, "voice", meta.Voice)

	if err = orch.Start(ctx); err != nil {
		slog.Error("pipeline start failed", "session_id", sessionID, "error", err)
		return
	}

	if firstAudio != nil {
		if err = orch.SendAudio(firstAudio); err != nil {
			slog.Error("send audio", "session_id", sessionID, "error", err)
		}
	}

	processMessages(conn, orch, sessionID)
	slog.Info("session ended", "session_id", sessionID)
}

// processMessages reads binary audio frames from the WebSocket in a loop and
// feeds them to the pipeline. Text frames after the metadata frame are
// ignored.
func processMessages(conn *websocket.Conn, orch *pipeline.Orchestrator, sessionID string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "session_id", sessionID, "error", err)
			return
		}

		if msgType != websocket.BinaryMessage {
			slog.Debug("unexpected text frame", "session_id", sessionID)
			continue
		}

		if err = orch.SendAudio(data); err != nil {
			slog.Error("send audio", "session_id", sessionID, "error", err)
		}
	}
}

// readMetadata consumes the first frame. A text frame is parsed as session
// metadata; a binary frame means the client skipped metadata, so it is
// returned for replay as the first audio chunk.
func readMetadata(conn *websocket.Conn) (*sessionMetadata, []byte, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, nil, err
	}
	if msgType == websocket.BinaryMessage {
		return &sessionMetadata{}, data, nil
	}
	var meta sessionMetadata
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, nil, err
	}
	return &meta, nil, nil
}

// wsTransport adapts a gorilla connection to the session transport: writes
// are serialized under a mutex because events and audio come from different
// goroutines.
type wsTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func newTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) WriteEvent(event map[string]any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	err = t.conn.WriteMessage(websocket.TextMessage, data)
	if err != nil {
		t.closed.Store(true)
	}
	return err
}

func (t *wsTransport) WriteBinary(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.conn.WriteMessage(websocket.BinaryMessage, data)
	if err != nil {
		t.closed.Store(true)
	}
	return err
}

func (t *wsTransport) Open() bool {
	return !t.closed.Load()
}

func (t *wsTransport) markClosed() {
	t.closed.Store(true)
}
