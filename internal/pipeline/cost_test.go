package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostTrackerSummaryDerivation(t *testing.T) {
	rates := Rates{
		STTPerMinute:           0.0059,
		InputTokensPerMillion:  0.15,
		OutputTokensPerMillion: 0.60,
		TTSPerMinute:           0.18,
	}
	c := NewCostTracker(rates)

	c.AddTokens(1_000_000, 500_000)
	c.AddSTTSeconds(60)
	c.AddTTSSeconds(30)

	got := c.Summary()
	assert.Equal(t, int64(1_000_000), got.InputTokens)
	assert.Equal(t, int64(500_000), got.OutputTokens)
	assert.Equal(t, int64(1_500_000), got.TokensUsed)
	assert.InDelta(t, 60.0, got.STTSeconds, 1e-9)
	assert.InDelta(t, 30.0, got.TTSSeconds, 1e-9)

	// 0.15 input + 0.30 output + 0.0059 stt + 0.09 tts
	assert.InDelta(t, 0.5459, got.CostUSD, 1e-9)
}

func TestCostTrackerAccumulatesAcrossCalls(t *testing.T) {
	c := NewCostTracker(DefaultRates())

	c.AddTokens(100, 50)
	c.AddTokens(200, 75)
	c.AddSTTSeconds(1.234)
	c.AddSTTSeconds(2.111)
	c.AddTTSSeconds(0.5)

	got := c.Summary()
	assert.Equal(t, int64(300), got.InputTokens)
	assert.Equal(t, int64(125), got.OutputTokens)
	assert.Equal(t, int64(425), got.TokensUsed)
	assert.InDelta(t, 3.35, got.STTSeconds, 1e-9, "seconds rounded to 2 decimals")
	assert.InDelta(t, 0.5, got.TTSSeconds, 1e-9)
}

func TestCostTrackerZeroUsage(t *testing.T) {
	c := NewCostTracker(DefaultRates())
	got := c.Summary()
	assert.Zero(t, got.TokensUsed)
	assert.Zero(t, got.CostUSD)
}

func TestCostTrackerReset(t *testing.T) {
	c := NewCostTracker(DefaultRates())
	c.AddTokens(10, 10)
	c.AddSTTSeconds(5)
	c.AddTTSSeconds(5)

	c.Reset()

	got := c.Summary()
	assert.Zero(t, got.TokensUsed)
	assert.Zero(t, got.STTSeconds)
	assert.Zero(t, got.TTSSeconds)
	assert.Zero(t, got.CostUSD)
}

func TestRound(t *testing.T) {
	assert.InDelta(t, 1.23, round(1.2345, 2), 1e-9)
	assert.InDelta(t, 1.2346, round(1.23456, 4), 1e-9)
	assert.InDelta(t, 0.5459, round(0.54591, 4), 1e-9)
}
