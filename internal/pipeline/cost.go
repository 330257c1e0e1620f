package pipeline

import (
	"math"
	"sync"
)

// Rates are the fixed per-unit provider prices used to derive a session's
// USD cost. Configured once at startup, never recomputed mid-session.
type Rates struct {
	STTPerMinute           float64
	InputTokensPerMillion  float64
	OutputTokensPerMillion float64
	TTSPerMinute           float64
}

// DefaultRates mirrors current list pricing for the default provider tier.
func DefaultRates() Rates {
	return Rates{
		STTPerMinute:           0.0059,
		InputTokensPerMillion:  0.15,
		OutputTokensPerMillion: 0.60,
		TTSPerMinute:           0.18,
	}
}

// CostSummary is the accumulated usage of one session.
type CostSummary struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TokensUsed   int64   `json:"tokens_used"`
	STTSeconds   float64 `json:"stt_seconds"`
	TTSSeconds   float64 `json:"tts_seconds"`
	CostUSD      float64 `json:"cost_usd"`
}

// CostTracker accumulates provider usage for a single session. Pure
// accumulator: nothing is persisted, the caller records the summary.
type CostTracker struct {
	mu           sync.Mutex
	rates        Rates
	inputTokens  int64
	outputTokens int64
	sttSeconds   float64
	ttsSeconds   float64
}

// NewCostTracker creates a tracker with the given rates.
func NewCostTracker(rates Rates) *CostTracker {
	return &CostTracker{rates: rates}
}

// AddTokens records generation usage.
func (c *CostTracker) AddTokens(input, output int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputTokens += input
	c.outputTokens += output
}

// AddSTTSeconds records transcribed audio duration.
func (c *CostTracker) AddSTTSeconds(s float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sttSeconds += s
}

// AddTTSSeconds records synthesized audio duration.
func (c *CostTracker) AddTTSSeconds(s float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttsSeconds += s
}

// Summary derives the current totals. Seconds are rounded to 2 decimal
// places, cost to 4.
func (c *CostTracker) Summary() CostSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	cost := float64(c.inputTokens)/1_000_000*c.rates.InputTokensPerMillion +
		float64(c.outputTokens)/1_000_000*c.rates.OutputTokensPerMillion +
		c.sttSeconds/60*c.rates.STTPerMinute +
		c.ttsSeconds/60*c.rates.TTSPerMinute

	return CostSummary{
		InputTokens:  c.inputTokens,
		OutputTokens: c.outputTokens,
		TokensUsed:   c.inputTokens + c.outputTokens,
		STTSeconds:   round(c.sttSeconds, 2),
		TTSSeconds:   round(c.ttsSeconds, 2),
		CostUSD:      round(cost, 4),
	}
}

// Reset zeroes all counters.
func (c *CostTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputTokens = 0
	c.outputTokens = 0
	c.sttSeconds = 0
	c.ttsSeconds = 0
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
