package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_sessions_active",
		Help: "Currently active voice sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_sessions_total",
		Help: "Total voice sessions handled",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	FirstAudioLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_stt_to_first_audio_seconds",
		Help:    "Latency from final transcript to first synthesized audio chunk",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	AudioChunksIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_audio_chunks_in_total",
		Help: "Inbound audio chunks received from callers",
	})

	AudioChunksOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_audio_chunks_out_total",
		Help: "Outbound synthesized audio chunks relayed to callers",
	})

	STTReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stt_reconnects_total",
		Help: "Successful transcription reconnects",
	})

	STTDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_stt_degraded_total",
		Help: "Transcription connectors that exhausted the reconnect budget",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_barge_ins_total",
		Help: "Caller interruptions while the assistant was speaking",
	})

	TranscriptsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_transcripts_dropped_total",
		Help: "Final transcripts dropped because a response run was active",
	})

	InvalidTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_invalid_state_transitions_total",
		Help: "Rejected state machine transitions",
	})
)
