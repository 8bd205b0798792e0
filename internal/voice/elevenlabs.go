package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Settings     VoiceSettings
	Marker       string
	DialAttempts int
	DialBackoff  time.Duration
}

// ElevenLabsSynthesizer streams text to the ElevenLabs stream-input websocket
// and trims annotation regions out of the reply.
type ElevenLabsSynthesizer struct {
	cfg       ElevenLabsConfig
	endpoint  string
	dialer    *websocket.Dialer
	collector *Collector
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig, metrics *observability.Metrics, logger *slog.Logger) (*ElevenLabsSynthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("elevenlabs api key is required")
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		return nil, errors.New("elevenlabs voice_id is required")
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_monolingual_v1"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100"
	}
	cfg.Settings.Stability = clampUnit(cfg.Settings.Stability)
	cfg.Settings.SimilarityBoost = clampUnit(cfg.Settings.SimilarityBoost)
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 3
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = 200 * time.Millisecond
	}
	if _, err := audio.ParseFormat(cfg.OutputFormat); err != nil {
		return nil, err
	}

	endpoint, err := streamInputURL(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ElevenLabsSynthesizer{
		cfg:      cfg,
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		collector: NewCollector(CollectorConfig{
			APIKey:       cfg.APIKey,
			OutputFormat: cfg.OutputFormat,
			Settings:     cfg.Settings,
			Marker:       cfg.Marker,
			Provider:     "elevenlabs",
		}, metrics, logger),
		metrics: metrics,
		logger:  logger.With(slog.String("component", "elevenlabs")),
	}, nil
}

func streamInputURL(cfg ElevenLabsConfig) (string, error) {
	u, err := url.Parse(strings.TrimRight(cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(cfg.VoiceID) + "/stream-input")
	if err != nil {
		return "", fmt.Errorf("elevenlabs url: %w", err)
	}
	q := u.Query()
	q.Set("model_id", cfg.ModelID)
	q.Set("output_format", cfg.OutputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (SynthesisResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "elevenlabs.synthesize")
	defer span.End()
	started := time.Now()

	conn, err := s.dial(ctx)
	if err != nil {
		span.RecordError(err)
		return SynthesisResult{}, err
	}
	ch := NewWebsocketChannel(conn)
	defer ch.Close()

	res, err := s.collector.Collect(ctx, ch, text)
	if err != nil {
		return SynthesisResult{}, err
	}
	s.metrics.ObserveStage(observability.StageSynthesis, time.Since(started))
	s.logger.Debug("synthesis finished",
		slog.Int("chunks", res.Chunks),
		slog.Int("spans", len(res.Spans)),
		slog.Duration("audio", res.Audio.Duration),
		slog.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

type dialStatusError struct {
	status int
	err    error
}

func (e *dialStatusError) Error() string {
	return fmt.Sprintf("dial tts websocket: status %d: %v", e.status, e.err)
}

func (e *dialStatusError) Unwrap() error { return e.err }

func (s *ElevenLabsSynthesizer) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("xi-api-key", s.cfg.APIKey)

	var conn *websocket.Conn
	err := reliability.Retry(ctx, s.cfg.DialAttempts, s.cfg.DialBackoff, 8*s.cfg.DialBackoff, isRetryableDial,
		func(ctx context.Context) error {
			c, resp, err := s.dialer.DialContext(ctx, s.endpoint, headers)
			if err != nil {
				if resp != nil {
					s.metrics.ObserveProviderError("elevenlabs", fmt.Sprintf("http_%d", resp.StatusCode))
					return &dialStatusError{status: resp.StatusCode, err: err}
				}
				s.logger.Warn("tts websocket dial failed", slog.String("error", err.Error()))
				return fmt.Errorf("dial tts websocket: %w", err)
			}
			conn = c
			return nil
		})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func isRetryableDial(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *dialStatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.status)
	}
	return true
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
