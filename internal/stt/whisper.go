package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/reliability"
)

type WhisperConfig struct {
	APIKey     string
	BaseURL    string // optional; for OpenAI-compatible servers
	Model      string
	Language   string
	Attempts   int
	HTTPClient *http.Client
}

// WhisperTranscriber sends WAV files to the OpenAI transcription endpoint.
type WhisperTranscriber struct {
	client   *openai.Client
	model    string
	language string
	attempts int
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewWhisperTranscriber(cfg WhisperConfig, metrics *observability.Metrics, logger *slog.Logger) (*WhisperTranscriber, error) {
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
		config.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperTranscriber{
		client:   openai.NewClientWithConfig(config),
		model:    cfg.Model,
		language: cfg.Language,
		attempts: cfg.Attempts,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "stt-whisper")),
	}, nil
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, wavPath string) (Transcription, error) {
	ctx, span := observability.Tracer().Start(ctx, "stt.transcribe")
	defer span.End()
	started := time.Now()

	var resp openai.AudioResponse
	err := reliability.Retry(ctx, w.attempts, 250*time.Millisecond, 2*time.Second, IsRetryableAPIError,
		func(ctx context.Context) error {
			var err error
			resp, err = w.client.CreateTranscription(ctx, openai.AudioRequest{
				Model:    w.model,
				FilePath: wavPath,
				Language: w.language,
			})
			return err
		})
	if err != nil {
		span.RecordError(err)
		w.metrics.ObserveProviderError("openai-stt", apiErrorCode(err))
		return Transcription{}, fmt.Errorf("whisper transcription: %w", err)
	}

	elapsed := time.Since(started)
	w.metrics.ObserveStage(observability.StageSTT, elapsed)
	text := strings.TrimSpace(resp.Text)
	w.logger.Info("audio transcribed", slog.Duration("elapsed", elapsed), slog.Int("chars", len(text)))
	return Transcription{Text: text, Confidence: 1}, nil
}

// IsRetryableAPIError reports whether an OpenAI client error is worth retrying.
func IsRetryableAPIError(err error) bool {
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

func apiErrorCode(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("http_%d", apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("http_%d", reqErr.HTTPStatusCode)
	}
	return "transport"
}
