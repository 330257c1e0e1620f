package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pitchroom/gateway/internal/audio"
	"github.com/pitchroom/gateway/internal/metrics"
	"github.com/pitchroom/gateway/internal/session"
)

// speechChunkSize is the relay unit: 4KB is 128ms of 16kHz mono PCM, small
// enough that an abort lands within one chunk-send interval.
const speechChunkSize = 4096

// Synthesizer streams synthesized speech for a piece of text. The returned
// reader yields 16kHz mono 16-bit PCM as the provider produces it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// Streamer relays synthesized audio to one session's binary channel,
// honoring an abort flag checked before every chunk send. Exclusively owned
// by one orchestrator; never shared across sessions.
type Streamer struct {
	synth   Synthesizer
	sess    *session.Session
	costs   *CostTracker
	onChunk func(n int)
	aborted atomic.Bool
}

// NewStreamer creates a streamer for one session. synth may be nil when the
// provider is unconfigured, in which case Speak is a no-op. onChunk, if set,
// fires after each relayed chunk.
func NewStreamer(synth Synthesizer, sess *session.Session, costs *CostTracker, onChunk func(n int)) *Streamer {
	return &Streamer{synth: synth, sess: sess, costs: costs, onChunk: onChunk}
}

// Speak synthesizes text and relays the audio chunk by chunk. A flush
// mid-stream stops further relay at the next chunk boundary without waiting
// for the provider stream to end.
func (s *Streamer) Speak(ctx context.Context, text string) error {
	if s.synth == nil || s.aborted.Load() {
		return nil
	}

	start := time.Now()
	body, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "synth").Inc()
		return fmt.Errorf("synthesize: %w", err)
	}
	defer body.Close()

	buf := make([]byte, speechChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if s.aborted.Load() {
				return nil
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.sess.SendBinary(chunk)
			s.costs.AddTTSSeconds(audio.Duration(n))
			metrics.AudioChunksOut.Inc()
			if s.onChunk != nil {
				s.onChunk(n)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			metrics.Errors.WithLabelValues("tts", "stream").Inc()
			return fmt.Errorf("synthesis stream: %w", readErr)
		}
	}

	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	return nil
}

// SpeakSentences speaks sentences strictly in order, one at a time, and
// stops immediately when aborted between sentences.
func (s *Streamer) SpeakSentences(ctx context.Context, sentences []string) error {
	for _, sentence := range sentences {
		if s.aborted.Load() {
			return nil
		}
		if err := s.Speak(ctx, sentence); err != nil {
			return err
		}
	}
	return nil
}

// Flush sets the abort flag; in-flight and subsequent Speak calls stop
// emitting audio as soon as they next check it.
func (s *Streamer) Flush() {
	s.aborted.Store(true)
}

// Reset clears the abort flag for the next response. Must follow a Flush
// before speaking again.
func (s *Streamer) Reset() {
	s.aborted.Store(false)
}

// Aborted reports whether the streamer is currently discarding audio.
func (s *Streamer) Aborted() bool {
	return s.aborted.Load()
}

// --- ElevenLabs backend (streaming endpoint, raw PCM out) ---

const elevenLabsBaseURL = "https://api.elevenlabs.io"

type elevenLabsSynthesizer struct {
	apiKey  string
	voiceID string
	modelID string
	baseURL string
	client  *http.Client
}

// NewElevenLabsSynthesizer creates a synthesizer against the ElevenLabs
// streaming endpoint, requesting 16kHz PCM output.
func NewElevenLabsSynthesizer(apiKey, voiceID, modelID string, client *http.Client) Synthesizer {
	return &elevenLabsSynthesizer{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: modelID,
		baseURL: elevenLabsBaseURL,
		client:  client,
	}
}

func (e *elevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=pcm_16000", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs status %d: %s", resp.StatusCode, errBody)
	}
	return resp.Body, nil
}

// NewPooledHTTPClient creates an http.Client with connection pooling tuned
// for streaming synthesis calls.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
