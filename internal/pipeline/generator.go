package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/pitchroom/gateway/internal/metrics"
	"github.com/pitchroom/gateway/internal/session"
)

// maxHistoryTurns bounds how much conversation context is sent upstream.
const maxHistoryTurns = 20

// ChatResult is the outcome of one streamed generation call. Text holds
// whatever streamed before an error, so an interrupted run can still record
// its partial turn.
type ChatResult struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// ChatStreamer is the text-generation provider boundary: stream a response
// for the given history, invoking onDelta for each text chunk in order.
type ChatStreamer interface {
	Stream(ctx context.Context, systemPrompt string, history []session.Turn, onDelta func(string)) (*ChatResult, error)
}

// Generator streams a response for a finalized transcript and segments it
// into sentences as they complete, handing each to the caller incrementally.
type Generator struct {
	streamer     ChatStreamer
	systemPrompt string
	maxAttempts  int
}

// NewGenerator creates a generator with a two-attempt retry budget on the
// underlying call.
func NewGenerator(streamer ChatStreamer, systemPrompt string) *Generator {
	return &Generator{streamer: streamer, systemPrompt: systemPrompt, maxAttempts: 2}
}

// Generate streams a response for the given history (which already includes
// the user's latest turn), flushing completed sentences to onSentence in
// arrival order and the trailing partial once the stream ends. The call is
// retried only while nothing has streamed yet; after output has been
// emitted, a mid-stream failure propagates to the caller.
func (g *Generator) Generate(ctx context.Context, history []session.Turn, onSentence func(string)) (*ChatResult, error) {
	var result *ChatResult
	var err error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		var sb SentenceBuffer
		received := false
		start := time.Now()

		result, err = g.streamer.Stream(ctx, g.systemPrompt, history, func(delta string) {
			received = true
			if sentence := sb.Add(delta); sentence != "" {
				onSentence(sentence)
			}
		})
		metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())

		if err == nil {
			if rest := sb.Flush(); rest != "" {
				onSentence(rest)
			}
			return result, nil
		}
		if received || ctx.Err() != nil {
			break
		}
		metrics.Errors.WithLabelValues("llm", "call").Inc()
		slog.Warn("generation attempt failed", "attempt", attempt, "error", err)
	}

	return result, err
}

// --- OpenAI backend ---

// OpenAIStreamer streams chat completions with usage accounting enabled so
// the final chunk reports prompt/completion token counts.
type OpenAIStreamer struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewOpenAIStreamer creates a streaming chat client with a fixed model and
// output token cap.
func NewOpenAIStreamer(apiKey, model string, maxTokens int64) *OpenAIStreamer {
	return &OpenAIStreamer{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *OpenAIStreamer) Stream(ctx context.Context, systemPrompt string, history []session.Turn, onDelta func(string)) (*ChatResult, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	start := 0
	if len(history) > maxHistoryTurns {
		start = len(history) - maxHistoryTurns
	}
	for _, turn := range history[start:] {
		switch turn.Role {
		case session.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  messages,
		MaxTokens: openai.Int(c.maxTokens),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	})
	defer stream.Close()

	var text strings.Builder
	var inputTokens, outputTokens int64
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				text.WriteString(delta)
				if onDelta != nil {
					onDelta(delta)
				}
			}
		}
		if chunk.Usage.TotalTokens > 0 {
			inputTokens = chunk.Usage.PromptTokens
			outputTokens = chunk.Usage.CompletionTokens
		}
	}

	result := &ChatResult{
		Text:         text.String(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
	if err := stream.Err(); err != nil {
		return result, fmt.Errorf("chat stream: %w", err)
	}
	return result, nil
}
