package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitchroom/gateway/internal/metrics"
)

const (
	keepaliveInterval  = 10 * time.Second
	prewarmIdleTimeout = 30 * time.Second

	// maxReconnectAttempts is the automatic retry budget after an unexpected
	// close. The next close after the budget is spent goes degraded.
	maxReconnectAttempts = 3
)

var reconnectBackoff = [maxReconnectAttempts]time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// Connector status values reported through OnStatus.
const (
	StatusReconnected = "reconnected"
	StatusDegraded    = "degraded"
)

// ConnectorConfig wires a Connector to its provider and its consumers.
// OnTranscript fires for every result, interim or final; OnFinal fires at
// most once per finalized utterance.
type ConnectorConfig struct {
	Provider        Provider
	Options         Options
	OnTranscript    func(Result)
	OnFinal         func(Result)
	OnSpeechStarted func()
	OnStatus        func(status string)
}

// Connector owns one live transcription link for a single session. It
// forwards audio while connected, buffers it in arrival order while a
// reconnect is in flight, and replays the buffer on reopen before any newer
// audio. Reconnects back off 1s/2s/4s; the close after the third failed
// attempt emits a degraded status and stops automatic retries.
type Connector struct {
	cfg ConnectorConfig

	// afterFunc schedules the reconnect and prewarm-eviction timers.
	// Replaced in tests to make timing deterministic.
	afterFunc func(d time.Duration, fn func()) *time.Timer

	mu             sync.Mutex
	ctx            context.Context
	conn           Conn
	prewarmed      Conn
	prewarmTimer   *time.Timer
	reconnectTimer *time.Timer
	keepaliveStop  chan struct{}
	pending        [][]byte
	attempts       int
	reconnecting   bool
	closed         bool
}

// NewConnector creates a connector. Start or Prewarm opens the link.
func NewConnector(cfg ConnectorConfig) *Connector {
	return &Connector{
		cfg:       cfg,
		afterFunc: time.AfterFunc,
	}
}

// Start opens the connection, reusing a pre-warmed one when available, and
// begins keepalive and event dispatch. Calling Start after a degraded status
// retries with a fresh attempt budget.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transcription connector closed")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx = ctx
	c.attempts = 0
	if c.prewarmTimer != nil {
		c.prewarmTimer.Stop()
		c.prewarmTimer = nil
	}
	conn := c.prewarmed
	c.prewarmed = nil
	c.mu.Unlock()

	if conn == nil {
		var err error
		conn, err = c.cfg.Provider.Dial(ctx, c.cfg.Options)
		if err != nil {
			return fmt.Errorf("transcription dial: %w", err)
		}
	}

	c.adopt(conn, false)
	c.startKeepalive()
	return nil
}

// Prewarm dials ahead of need so the first utterance skips the handshake.
// An unused pre-warmed connection is closed after 30s so a later Start
// dials fresh instead of reusing a stale link.
func (c *Connector) Prewarm(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.conn != nil || c.prewarmed != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.cfg.Provider.Dial(ctx, c.cfg.Options)
	if err != nil {
		return fmt.Errorf("transcription prewarm: %w", err)
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.prewarmed = conn
	c.prewarmTimer = c.afterFunc(prewarmIdleTimeout, c.evictPrewarmed)
	c.mu.Unlock()
	return nil
}

// SendAudio forwards a chunk when connected and buffers it in arrival order
// while a reconnect is in flight. Chunks sent after Close are dropped.
func (c *Connector) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.reconnecting {
		c.pending = append(c.pending, chunk)
		return nil
	}
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Send(chunk); err != nil {
		// The close event is on its way; keep the chunk for replay.
		c.pending = append(c.pending, chunk)
	}
	return nil
}

// Close cancels pending reconnect and prewarm timers, stops keepalive, and
// tears down the connection. No reconnects occur after an explicit close.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.prewarmTimer != nil {
		c.prewarmTimer.Stop()
		c.prewarmTimer = nil
	}
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	conn := c.conn
	c.conn = nil
	prewarmed := c.prewarmed
	c.prewarmed = nil
	c.pending = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if prewarmed != nil {
		prewarmed.Close()
	}
	return nil
}

// adopt installs a connection, replays any buffered audio in submission
// order before new audio can interleave, and starts event dispatch.
func (c *Connector) adopt(conn Conn, isReconnect bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.reconnecting = false
	c.attempts = 0
	var replayErr error
	for _, chunk := range c.pending {
		if err := conn.Send(chunk); err != nil {
			replayErr = err
			break
		}
	}
	c.pending = nil
	c.mu.Unlock()

	go c.dispatch(conn)

	if isReconnect {
		metrics.STTReconnects.Inc()
		slog.Info("transcription reconnected")
		if c.cfg.OnStatus != nil {
			c.cfg.OnStatus(StatusReconnected)
		}
	}
	if replayErr != nil {
		slog.Warn("transcription replay failed", "error", replayErr)
	}
}

// dispatch is the single per-connection event loop.
func (c *Connector) dispatch(conn Conn) {
	for ev := range conn.Events() {
		switch ev.Type {
		case EventTranscript:
			c.handleResult(*ev.Result)
		case EventSpeechStarted:
			if c.cfg.OnSpeechStarted != nil {
				c.cfg.OnSpeechStarted()
			}
		case EventClosed:
			c.handleClose(conn, ev.Err)
			return
		}
	}
	c.handleClose(conn, nil)
}

func (c *Connector) handleResult(res Result) {
	if c.cfg.OnTranscript != nil {
		c.cfg.OnTranscript(res)
	}
	if res.Final() && c.cfg.OnFinal != nil {
		c.cfg.OnFinal(res)
	}
}

func (c *Connector) handleClose(conn Conn, err error) {
	c.mu.Lock()
	if c.closed || conn != c.conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.scheduleReconnectLocked(err)
}

// dialFailed counts a failed reconnect dial as another close.
func (c *Connector) dialFailed(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.scheduleReconnectLocked(err)
}

// scheduleReconnectLocked consumes one reconnect attempt or goes degraded.
// Called with c.mu held; releases it.
func (c *Connector) scheduleReconnectLocked(cause error) {
	if c.attempts >= maxReconnectAttempts {
		c.reconnecting = false
		c.mu.Unlock()
		metrics.STTDegraded.Inc()
		slog.Warn("transcription degraded, reconnect budget exhausted", "error", cause)
		if c.cfg.OnStatus != nil {
			c.cfg.OnStatus(StatusDegraded)
		}
		return
	}

	delay := reconnectBackoff[c.attempts]
	c.attempts++
	attempt := c.attempts
	c.reconnecting = true
	c.reconnectTimer = c.afterFunc(delay, c.reconnect)
	c.mu.Unlock()

	metrics.Errors.WithLabelValues("stt", "disconnect").Inc()
	slog.Info("transcription closed, reconnecting", "attempt", attempt, "delay", delay, "error", cause)
}

func (c *Connector) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()

	conn, err := c.cfg.Provider.Dial(ctx, c.cfg.Options)
	if err != nil {
		c.dialFailed(err)
		return
	}
	c.adopt(conn, true)
}

func (c *Connector) evictPrewarmed() {
	c.mu.Lock()
	conn := c.prewarmed
	c.prewarmed = nil
	c.prewarmTimer = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		slog.Info("prewarmed transcription connection evicted after idle timeout")
	}
}

func (c *Connector) startKeepalive() {
	c.mu.Lock()
	if c.keepaliveStop != nil || c.closed {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.keepaliveStop = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				conn := c.conn
				c.mu.Unlock()
				if conn != nil {
					if err := conn.KeepAlive(); err != nil {
						slog.Debug("transcription keepalive failed", "error", err)
					}
				}
			}
		}
	}()
}
