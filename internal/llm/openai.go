package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/reliability"
)

var ErrEmptyCompletion = errors.New("chat completion returned no choices")

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional; for OpenAI-compatible servers
	Model       string
	Temperature float32
	MaxTokens   int
	Attempts    int
	HTTPClient  *http.Client
}

// OpenAIChat runs non-streaming chat completions against an OpenAI-compatible API.
type OpenAIChat struct {
	client  *openai.Client
	cfg     OpenAIConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewOpenAIChat(cfg OpenAIConfig, metrics *observability.Metrics, logger *slog.Logger) (*OpenAIChat, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing openai api key")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIChat{
		client:  openai.NewClientWithConfig(config),
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "llm-openai")),
	}, nil
}

func (c *OpenAIChat) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "llm.complete")
	defer span.End()
	started := time.Now()

	in := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		in = append(in, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    in,
		Temperature: wireTemperature(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxTokens,
	}

	var resp openai.ChatCompletionResponse
	err := reliability.Retry(ctx, c.cfg.Attempts, 300*time.Millisecond, 3*time.Second, isRetryable,
		func(ctx context.Context) error {
			var err error
			resp, err = c.client.CreateChatCompletion(ctx, req)
			return err
		})
	if err != nil {
		span.RecordError(err)
		c.metrics.ObserveProviderError("openai-chat", errorCode(err))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	elapsed := time.Since(started)
	c.metrics.ObserveStage(observability.StageLLM, elapsed)
	c.logger.Debug("completion finished",
		slog.String("model", c.cfg.Model),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.Duration("elapsed", elapsed),
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// wireTemperature maps 0 to the smallest positive float; the client drops a
// literal zero from the request and the server would apply its own default.
func wireTemperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reliability.IsRetryableHTTPStatus(reqErr.HTTPStatusCode)
	}
	return false
}

func errorCode(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("http_%d", apiErr.HTTPStatusCode)
	}
	return "transport"
}
