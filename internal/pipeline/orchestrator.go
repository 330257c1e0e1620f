// Package pipeline wires one session's transcription, generation, and
// synthesis into a turn-taking loop: final transcripts drive streamed
// responses, sentences are synthesized in arrival order, and a barge-in
// aborts playback mid-stream.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitchroom/gateway/internal/audio"
	"github.com/pitchroom/gateway/internal/metrics"
	"github.com/pitchroom/gateway/internal/session"
	"github.com/pitchroom/gateway/internal/stt"
	"github.com/pitchroom/gateway/internal/trace"
)

// Config holds one session's pipeline collaborators.
type Config struct {
	Session     *session.Session
	Provider    stt.Provider
	STTOptions  stt.Options
	Generator   *Generator
	Synthesizer Synthesizer // nil leaves speech synthesis unconfigured
	Costs       *CostTracker
	Tracer      *trace.Tracer
}

// Orchestrator runs the conversation loop for exactly one session. It owns
// the transcription connector and the speech streamer; neither is shared.
// At most one response run is active at a time, enforced by the processing
// guard: a second final transcript arriving mid-run is dropped.
type Orchestrator struct {
	cfg       Config
	sess      *session.Session
	connector *stt.Connector
	streamer  *Streamer

	processing  atomic.Bool
	latencySent atomic.Bool

	mu        sync.Mutex
	ctx       context.Context
	cancelRun context.CancelFunc
	finalAt   time.Time
	startedAt time.Time
}

// New creates the orchestrator and wires the connector callbacks.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{cfg: cfg, sess: cfg.Session}
	o.streamer = NewStreamer(cfg.Synthesizer, cfg.Session, cfg.Costs, o.onAudioChunk)
	o.connector = stt.NewConnector(stt.ConnectorConfig{
		Provider:        cfg.Provider,
		Options:         cfg.STTOptions,
		OnTranscript:    o.onTranscript,
		OnFinal:         o.onFinal,
		OnSpeechStarted: o.onSpeechStarted,
		OnStatus:        o.onConnectorStatus,
	})
	return o
}

// Streamer exposes the speech streamer, mainly for tests.
func (o *Orchestrator) Streamer() *Streamer {
	return o.streamer
}

// Prewarm opens the transcription link ahead of the first utterance.
func (o *Orchestrator) Prewarm(ctx context.Context) error {
	return o.connector.Prewarm(ctx)
}

// Start records the session start, brings up the transcription connector,
// and announces readiness. A connector that cannot start (missing
// credentials, unreachable provider) reports one error event and stays down.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.ctx = ctx
	o.startedAt = time.Now()
	o.mu.Unlock()

	if err := o.connector.Start(ctx); err != nil {
		metrics.Errors.WithLabelValues("stt", "start").Inc()
		o.sess.SendEvent("error", map[string]any{"message": err.Error()})
		return err
	}

	o.sess.SendEvent("pipeline_ready", nil)
	o.sess.Machine.Transition(session.StateListening)
	return nil
}

// SendAudio forwards a caller audio frame to the transcription connector and
// accounts its duration.
func (o *Orchestrator) SendAudio(chunk []byte) error {
	metrics.AudioChunksIn.Inc()
	o.cfg.Costs.AddSTTSeconds(audio.Duration(len(chunk)))
	return o.connector.SendAudio(chunk)
}

// Stop tears the pipeline down: connector closed, playback flushed, any
// in-flight run canceled, and the final cost summary emitted.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancelRun
	startedAt := o.startedAt
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.connector.Close()
	o.streamer.Flush()

	var durationSeconds float64
	if !startedAt.IsZero() {
		durationSeconds = time.Since(startedAt).Seconds()
	}
	summary := o.cfg.Costs.Summary()
	o.sess.SendEvent("session_costs", map[string]any{
		"input_tokens":     summary.InputTokens,
		"output_tokens":    summary.OutputTokens,
		"tokens_used":      summary.TokensUsed,
		"stt_seconds":      summary.STTSeconds,
		"tts_seconds":      summary.TTSSeconds,
		"cost_usd":         summary.CostUSD,
		"duration_seconds": round(durationSeconds, 2),
	})

	slog.Info("session stopped",
		"session_id", o.sess.ID,
		"duration_s", round(durationSeconds, 2),
		"tokens_used", summary.TokensUsed,
		"cost_usd", summary.CostUSD,
	)
}

// HandleBargeIn aborts assistant playback when the caller starts speaking
// over it: flush the streamer, tell the transport to discard buffered
// playback, mark the cut-off turn, walk SPEAKING→INTERRUPTION→LISTENING,
// and re-arm the streamer. Safe to call when not speaking; no invalid
// transition is attempted.
func (o *Orchestrator) HandleBargeIn() {
	o.mu.Lock()
	speaking := o.sess.Machine.Current() == session.StateSpeaking
	cancel := o.cancelRun
	o.mu.Unlock()

	o.streamer.Flush()
	if speaking && cancel != nil {
		cancel()
	}
	o.sess.SendEvent("flush_audio", nil)
	if speaking {
		metrics.BargeIns.Inc()
		// The active run appends its own partial turn as interrupted; only
		// an already-appended turn still being spoken is marked here.
		if !o.processing.Load() {
			o.sess.MarkLastAssistantInterrupted()
		}
		o.sess.Machine.Transition(session.StateInterruption)
		o.sess.Machine.Transition(session.StateListening)
	}
	o.streamer.Reset()
}

func (o *Orchestrator) onTranscript(res stt.Result) {
	o.sess.SendEvent("transcript", map[string]any{
		"text":       res.Text,
		"is_final":   res.IsFinal,
		"confidence": res.Confidence,
	})
	// Interim speech over assistant audio counts as a barge-in even when
	// the provider's VAD onset event was missed.
	if !res.IsFinal && res.Text != "" && o.sess.Machine.Current() == session.StateSpeaking {
		o.HandleBargeIn()
	}
}

func (o *Orchestrator) onSpeechStarted() {
	o.sess.SendEvent("speech_started", nil)
	switch o.sess.Machine.Current() {
	case session.StateSpeaking:
		o.HandleBargeIn()
	case session.StateIdle:
		o.sess.Machine.Transition(session.StateListening)
	}
}

func (o *Orchestrator) onConnectorStatus(status string) {
	o.sess.SendEvent(status, nil)
}

// onFinal starts a response run for a finalized utterance unless one is
// already active, in which case the transcript is dropped.
func (o *Orchestrator) onFinal(res stt.Result) {
	if !o.processing.CompareAndSwap(false, true) {
		metrics.TranscriptsDropped.Inc()
		slog.Info("final transcript dropped, run active", "session_id", o.sess.ID, "text", res.Text)
		return
	}

	machine := o.sess.Machine
	if machine.Current() == session.StateIdle {
		machine.Transition(session.StateListening)
	}
	if err := machine.Transition(session.StateProcessing); err != nil {
		o.processing.Store(false)
		return
	}

	o.mu.Lock()
	runCtx, cancel := context.WithCancel(o.ctx)
	o.cancelRun = cancel
	o.finalAt = time.Now()
	o.mu.Unlock()
	o.latencySent.Store(false)

	// The run gets its own goroutine so the connector's dispatch loop stays
	// free to deliver the interim results and VAD events that drive barge-in.
	go o.run(runCtx, res)
}

func (o *Orchestrator) run(ctx context.Context, res stt.Result) {
	defer o.processing.Store(false)

	runID := o.cfg.Tracer.StartRun()
	runStart := time.Now()
	machine := o.sess.Machine

	o.sess.AddTurn(session.RoleUser, res.Text, false)
	history := o.sess.RecentHistory(maxHistoryTurns)

	// Sentences flow through a buffered channel to a single consumer, so
	// audio is spoken strictly in the order sentences complete even though
	// they arrive asynchronously.
	sentenceCh := make(chan string, 4)
	var wg sync.WaitGroup
	var speakErr error
	speakStart := time.Now()
	wg.Add(1)
	go func() {
		defer wg.Done()
		first := true
		for sentence := range sentenceCh {
			if ctx.Err() != nil || speakErr != nil {
				continue // drain without speaking
			}
			if first {
				first = false
				speakStart = time.Now()
				machine.Transition(session.StateSpeaking)
			}
			if err := o.streamer.Speak(ctx, sentence); err != nil && ctx.Err() == nil {
				speakErr = err
				o.sess.SendEvent("error", map[string]any{"message": err.Error()})
			}
		}
	}()

	genStart := time.Now()
	result, err := o.cfg.Generator.Generate(ctx, history, func(sentence string) {
		sentenceCh <- sentence
	})
	close(sentenceCh)
	wg.Wait()

	responseText := ""
	if result != nil {
		responseText = result.Text
		o.cfg.Costs.AddTokens(result.InputTokens, result.OutputTokens)
	}

	genStatus, genErrMsg := "ok", ""
	if err != nil {
		genStatus, genErrMsg = "error", err.Error()
	}
	o.cfg.Tracer.RecordSpan(runID, "generate", genStart, float64(time.Since(genStart).Milliseconds()), res.Text, responseText, genStatus, genErrMsg)

	interrupted := ctx.Err() != nil

	if err != nil && !interrupted {
		o.sess.SendEvent("error", map[string]any{"message": err.Error()})
		o.settleState()
		o.cfg.Tracer.FinishRun(runID, float64(time.Since(runStart).Milliseconds()), res.Text, responseText, false, "error")
		return
	}

	if interrupted {
		if responseText != "" {
			o.sess.AddTurn(session.RoleAssistant, responseText, true)
		}
		o.cfg.Tracer.FinishRun(runID, float64(time.Since(runStart).Milliseconds()), res.Text, responseText, true, "interrupted")
		return
	}

	if strings.TrimSpace(responseText) == "" {
		machine.Transition(session.StateIdle)
		o.cfg.Tracer.FinishRun(runID, float64(time.Since(runStart).Milliseconds()), res.Text, "", false, "empty")
		return
	}

	o.cfg.Tracer.RecordSpan(runID, "synthesize", speakStart, float64(time.Since(speakStart).Milliseconds()), responseText, "", speakStatus(speakErr), errMsg(speakErr))

	o.sess.AddTurn(session.RoleAssistant, responseText, false)

	// A barge-in may have moved the state already; only settle from SPEAKING.
	if machine.Current() == session.StateSpeaking {
		machine.Transition(session.StateIdle)
	} else if machine.Current() == session.StateProcessing {
		machine.Transition(session.StateIdle)
	}

	status := "ok"
	if speakErr != nil {
		status = "error"
	}
	o.cfg.Tracer.FinishRun(runID, float64(time.Since(runStart).Milliseconds()), res.Text, responseText, false, status)
	slog.Info("run complete",
		"session_id", o.sess.ID,
		"transcript", res.Text,
		"reply_len", len(responseText),
		"e2e_ms", time.Since(runStart).Milliseconds(),
	)
}

// settleState returns the machine to IDLE from whichever mid-run state an
// error left it in.
func (o *Orchestrator) settleState() {
	machine := o.sess.Machine
	switch machine.Current() {
	case session.StateProcessing, session.StateSpeaking:
		machine.Transition(session.StateIdle)
	}
}

// onAudioChunk emits the stt-to-first-audio latency once per run.
func (o *Orchestrator) onAudioChunk(int) {
	if o.latencySent.CompareAndSwap(false, true) {
		o.mu.Lock()
		finalAt := o.finalAt
		o.mu.Unlock()
		elapsed := time.Since(finalAt)
		metrics.FirstAudioLatency.Observe(elapsed.Seconds())
		o.sess.SendEvent("latency", map[string]any{
			"stt_to_first_audio_ms": float64(elapsed.Milliseconds()),
		})
	}
}

func speakStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func errMsg(err error) string {
	if err != nil {
		return err.Error()
	}
	return ""
}
