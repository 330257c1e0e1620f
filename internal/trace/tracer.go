package trace

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const maxIOLen = 500

type traceMsg struct {
	kind string // "run_create", "run_finish", "span"
	// run fields
	runID       string
	callID      string
	durationMs  float64
	transcript  string
	reply       string
	interrupted bool
	status      string
	// span fields
	span Span
}

// Tracer writes trace data asynchronously via a buffered channel.
// All methods are nil-safe (no-op on nil receiver).
type Tracer struct {
	store  *Store
	callID string
	ch     chan traceMsg
	done   chan struct{}
}

// NewTracer creates a tracer bound to one call. Returns nil when store is
// nil (tracing disabled). Must call Close when done.
func NewTracer(store *Store, callID, userID string) *Tracer {
	if store == nil {
		return nil
	}
	if err := store.CreateCall(callID, userID); err != nil {
		slog.Warn("trace call create failed", "error", err)
	}
	t := &Tracer{
		store:  store,
		callID: callID,
		ch:     make(chan traceMsg, 64),
		done:   make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	var err error
	switch m.kind {
	case "run_create":
		err = t.store.CreateRun(m.runID, m.callID)
	case "run_finish":
		err = t.store.FinishRun(m.runID, m.durationMs, m.transcript, m.reply, m.interrupted, m.status)
	case "span":
		err = t.store.CreateSpan(m.span)
	default:
		return
	}
	if err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

// StartRun begins a new run and returns its ID.
func (t *Tracer) StartRun() string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.ch <- traceMsg{kind: "run_create", runID: id, callID: t.callID}
	return id
}

// FinishRun finalizes a run.
func (t *Tracer) FinishRun(runID string, durationMs float64, transcript, reply string, interrupted bool, status string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{
		kind:        "run_finish",
		runID:       runID,
		durationMs:  durationMs,
		transcript:  truncate(transcript, maxIOLen),
		reply:       truncate(reply, maxIOLen),
		interrupted: interrupted,
		status:      status,
	}
}

// RecordSpan records a completed stage.
func (t *Tracer) RecordSpan(runID, name string, startedAt time.Time, durationMs float64, input, output, status, errMsg string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{
		kind: "span",
		span: Span{
			ID:         uuid.NewString(),
			RunID:      runID,
			Name:       name,
			StartedAt:  startedAt,
			DurationMs: durationMs,
			Input:      truncate(input, maxIOLen),
			Output:     truncate(output, maxIOLen),
			Status:     status,
			Error:      errMsg,
		},
	}
}

// Close drains pending writes, marks the call ended, and stops the
// background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
	if err := t.store.EndCall(t.callID); err != nil {
		slog.Warn("trace call end failed", "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
