package main

import (
	"github.com/pitchroom/gateway/internal/env"
	"github.com/pitchroom/gateway/internal/pipeline"
	"github.com/pitchroom/gateway/internal/prompts"
	"github.com/pitchroom/gateway/internal/stt"
)

type config struct {
	port                  string
	deepgramAPIKey        string
	openaiAPIKey          string
	openaiModel           string
	maxTokens             int
	systemPrompt          string
	elevenlabsAPIKey      string
	elevenlabsVoiceID     string
	elevenlabsPitchVoice  string
	elevenlabsModelID     string
	ttsPoolSize           int
	maxConcurrentSessions int
	traceDatabaseURL      string
	sttOptions            stt.Options
	rates                 pipeline.Rates
}

func loadConfig() config {
	opts := stt.DefaultOptions()
	opts.Model = env.Str("DEEPGRAM_MODEL", opts.Model)
	opts.Language = env.Str("DEEPGRAM_LANGUAGE", opts.Language)
	opts.UtteranceEndMs = env.Int("DEEPGRAM_UTTERANCE_END_MS", opts.UtteranceEndMs)
	opts.EndpointingMs = env.Int("DEEPGRAM_ENDPOINTING_MS", opts.EndpointingMs)

	rates := pipeline.DefaultRates()
	rates.STTPerMinute = env.Float("RATE_STT_PER_MINUTE", rates.STTPerMinute)
	rates.InputTokensPerMillion = env.Float("RATE_INPUT_TOKENS_PER_MILLION", rates.InputTokensPerMillion)
	rates.OutputTokensPerMillion = env.Float("RATE_OUTPUT_TOKENS_PER_MILLION", rates.OutputTokensPerMillion)
	rates.TTSPerMinute = env.Float("RATE_TTS_PER_MINUTE", rates.TTSPerMinute)

	return config{
		port:                  env.Str("GATEWAY_PORT", "8000"),
		deepgramAPIKey:        env.Str("DEEPGRAM_API_KEY", ""),
		openaiAPIKey:          env.Str("OPENAI_API_KEY", ""),
		openaiModel:           env.Str("OPENAI_MODEL", "gpt-4o-mini"),
		maxTokens:             env.Int("LLM_MAX_TOKENS", 150),
		systemPrompt:          env.Str("LLM_SYSTEM_PROMPT", prompts.DefaultSystem),
		elevenlabsAPIKey:      env.Str("ELEVENLABS_API_KEY", ""),
		elevenlabsVoiceID:     env.Str("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsPitchVoice:  env.Str("ELEVENLABS_PITCH_VOICE_ID", ""),
		elevenlabsModelID:     env.Str("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		ttsPoolSize:           env.Int("TTS_POOL_SIZE", 50),
		maxConcurrentSessions: env.Int("MAX_CONCURRENT_SESSIONS", 100),
		traceDatabaseURL:      env.Str("TRACE_DATABASE_URL", ""),
		sttOptions:            opts,
		rates:                 rates,
	}
}
