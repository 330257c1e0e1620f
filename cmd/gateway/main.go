package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pitchroom/gateway/internal/pipeline"
	"github.com/pitchroom/gateway/internal/stt"
	"github.com/pitchroom/gateway/internal/trace"
	"github.com/pitchroom/gateway/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	sttProvider := stt.NewDeepgramProvider(cfg.deepgramAPIKey)
	chat := pipeline.NewOpenAIStreamer(cfg.openaiAPIKey, cfg.openaiModel, int64(cfg.maxTokens))

	ttsHTTP := pipeline.NewPooledHTTPClient(cfg.ttsPoolSize, 30*time.Second)
	voiceBackends := map[string]pipeline.Synthesizer{}
	if cfg.elevenlabsAPIKey != "" {
		voiceBackends["default"] = pipeline.NewElevenLabsSynthesizer(cfg.elevenlabsAPIKey, cfg.elevenlabsVoiceID, cfg.elevenlabsModelID, ttsHTTP)
		if cfg.elevenlabsPitchVoice != "" {
			voiceBackends["pitch"] = pipeline.NewElevenLabsSynthesizer(cfg.elevenlabsAPIKey, cfg.elevenlabsPitchVoice, cfg.elevenlabsModelID, ttsHTTP)
		}
	} else {
		slog.Warn("ELEVENLABS_API_KEY not set, speech synthesis disabled")
	}
	voices := pipeline.NewRouter(voiceBackends, "default")

	var traceStore *trace.Store
	if cfg.traceDatabaseURL != "" {
		store, err := trace.Open(cfg.traceDatabaseURL)
		if err != nil {
			slog.Warn("trace store unavailable, tracing disabled", "error", err)
		} else {
			traceStore = store
			defer traceStore.Close()
		}
	}

	handler := ws.NewHandler(ws.HandlerConfig{
		STTProvider:   sttProvider,
		STTOptions:    cfg.sttOptions,
		Chat:          chat,
		SystemPrompt:  cfg.systemPrompt,
		Voices:        voices,
		Rates:         cfg.rates,
		TraceStore:    traceStore,
		MaxConcurrent: cfg.maxConcurrentSessions,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		wsHandler:  handler,
		voices:     voices,
		traceStore: traceStore,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("gateway starting", "addr", addr, "max_concurrent", cfg.maxConcurrentSessions, "model", cfg.openaiModel)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}
