package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/alignment"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/reliability"
)

type CollectorConfig struct {
	APIKey       string
	OutputFormat string
	Settings     VoiceSettings
	// Marker delimits annotation regions; empty means annotation.DefaultMarker.
	Marker string
	// Provider labels metrics and logs.
	Provider string
}

// ProviderError is an error reported by the provider inside the stream.
type ProviderError struct {
	Code      string
	Detail    string
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Detail == "" {
		return "provider error: " + e.Code
	}
	return fmt.Sprintf("provider error: %s: %s", e.Code, e.Detail)
}

// Collector drives one synthesis stream: handshake, receive, then merge,
// detect and trim. It keeps no per-request state, so one Collector serves any
// number of concurrent streams.
type Collector struct {
	cfg      CollectorConfig
	detector *annotation.Detector
	trimmer  *audio.Trimmer
	metrics  *observability.Metrics
	logger   *slog.Logger
}

func NewCollector(cfg CollectorConfig, metrics *observability.Metrics, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Provider == "" {
		cfg.Provider = "elevenlabs"
	}
	logger = logger.With(slog.String("component", "synthesis-collector"), slog.String("provider", cfg.Provider))
	return &Collector{
		cfg:      cfg,
		detector: annotation.NewDetector(cfg.Marker, logger),
		trimmer:  audio.NewTrimmer(logger),
		metrics:  metrics,
		logger:   logger,
	}
}

type handshakeInit struct {
	Text          string        `json:"text"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
	OutputFormat  string        `json:"output_format"`
	APIKey        string        `json:"xi_api_key"`
}

type textMessage struct {
	Text string `json:"text"`
}

// providerMessage holds every optional field a provider message may carry.
type providerMessage struct {
	Audio     *string          `json:"audio"`
	Alignment *alignment.Block `json:"alignment"`
	IsFinal   *bool            `json:"isFinal"`
	Error     *string          `json:"error"`
	Message   *string          `json:"message"`
}

type messageKind int

const (
	kindEnd messageKind = iota
	kindAudioAligned
	kindAudioOnly
	kindError
)

func (m providerMessage) kind() messageKind {
	hasAudio := m.Audio != nil && *m.Audio != ""
	switch {
	case m.Error != nil && *m.Error != "":
		return kindError
	case hasAudio && m.Alignment != nil:
		return kindAudioAligned
	case hasAudio:
		return kindAudioOnly
	default:
		return kindEnd
	}
}

func (m providerMessage) providerError() *ProviderError {
	perr := &ProviderError{Code: *m.Error}
	if m.Message != nil {
		perr.Detail = *m.Message
	}
	perr.Retryable = reliability.IsRetryableProviderError(perr.Code)
	return perr
}

type accumulation struct {
	audio       bytes.Buffer
	blocks      []alignment.Block
	chunks      int
	endReason   string
	providerErr *ProviderError
}

// Collect sends text over ch and turns the streamed reply into trimmed audio.
// A stream that ends before any audio yields an empty result and no error.
// Cancelling ctx aborts the stream and discards whatever was received.
// Collect does not close ch.
func (c *Collector) Collect(ctx context.Context, ch Channel, text string) (SynthesisResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "voice.collect")
	defer span.End()

	format, err := audio.ParseFormat(c.cfg.OutputFormat)
	if err != nil {
		c.logger.Error("output format not supported", slog.String("format", c.cfg.OutputFormat))
		span.RecordError(err)
		return SynthesisResult{}, err
	}

	started := time.Now()
	if err := c.handshake(ctx, ch, text); err != nil {
		span.RecordError(err)
		return SynthesisResult{}, fmt.Errorf("synthesis handshake: %w", err)
	}
	acc, err := c.receive(ctx, ch, started)
	if err != nil {
		span.RecordError(err)
		return SynthesisResult{}, err
	}
	c.metrics.ObserveStreamEnd(acc.endReason)
	span.SetAttributes(
		attribute.Int("synthesis.chunks", acc.chunks),
		attribute.Int("synthesis.blocks", len(acc.blocks)),
		attribute.String("synthesis.end_reason", acc.endReason),
	)
	return c.finalize(ctx, acc, format)
}

func (c *Collector) handshake(ctx context.Context, ch Channel, text string) error {
	messages := []any{
		handshakeInit{
			Text:          " ",
			VoiceSettings: c.cfg.Settings,
			OutputFormat:  c.cfg.OutputFormat,
			APIKey:        c.cfg.APIKey,
		},
		textMessage{Text: text},
		textMessage{Text: ""},
	}
	for i, msg := range messages {
		if err := ch.WriteJSON(ctx, msg); err != nil {
			return fmt.Errorf("message %d: %w", i+1, err)
		}
	}
	return nil
}

func (c *Collector) receive(ctx context.Context, ch Channel, started time.Time) (*accumulation, error) {
	acc := &accumulation{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := ch.ReadMessage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, ErrChannelClosed) {
				acc.endReason = EndClosed
				c.logger.Debug("provider closed stream", slog.Int("chunks", acc.chunks))
			} else {
				acc.endReason = EndChannelFailure
				c.logger.Warn("synthesis channel failed mid-stream",
					slog.Int("chunks", acc.chunks),
					slog.Int("audio_bytes", acc.audio.Len()),
					slog.String("error", err.Error()),
				)
			}
			return acc, nil
		}

		var msg providerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("skipping undecodable provider message",
				slog.Int("bytes", len(data)),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch msg.kind() {
		case kindError:
			perr := msg.providerError()
			acc.providerErr = perr
			acc.endReason = EndProviderError
			c.metrics.ObserveProviderError(c.cfg.Provider, perr.Code)
			c.logger.Warn("provider reported error",
				slog.String("code", perr.Code),
				slog.String("detail", perr.Detail),
				slog.Bool("retryable", perr.Retryable),
				slog.Int("chunks", acc.chunks),
			)
			return acc, nil
		case kindAudioAligned, kindAudioOnly:
			chunk, err := base64.StdEncoding.DecodeString(*msg.Audio)
			if err != nil {
				acc.endReason = EndBadChunk
				c.logger.Warn("audio chunk is not valid base64",
					slog.Int("chunk", acc.chunks),
					slog.String("error", err.Error()),
				)
				return acc, nil
			}
			if acc.chunks == 0 {
				c.metrics.ObserveFirstAudioLatency(time.Since(started))
			}
			acc.audio.Write(chunk)
			acc.chunks++
			if msg.Alignment == nil {
				acc.endReason = EndAudioOnly
				c.logger.Debug("audio chunk without alignment ends stream", slog.Int("chunks", acc.chunks))
				return acc, nil
			}
			acc.blocks = append(acc.blocks, *msg.Alignment)
		default:
			acc.endReason = EndComplete
			return acc, nil
		}
	}
}

func (c *Collector) finalize(ctx context.Context, acc *accumulation, format audio.Format) (SynthesisResult, error) {
	res := SynthesisResult{
		Format:    c.cfg.OutputFormat,
		Chunks:    acc.chunks,
		Blocks:    len(acc.blocks),
		EndReason: acc.endReason,
	}
	if acc.audio.Len() == 0 {
		if acc.providerErr != nil {
			return SynthesisResult{}, acc.providerErr
		}
		c.logger.Info("synthesis stream ended without audio", slog.String("reason", acc.endReason))
		return res, nil
	}

	var detected annotation.Result
	tl, err := alignment.Merge(acc.blocks)
	if err != nil {
		res.MalformedAlignment = true
		c.logger.Warn("alignment rejected, audio left untrimmed",
			slog.Int("blocks", len(acc.blocks)),
			slog.String("error", err.Error()),
		)
	} else {
		detected = c.detector.Detect(tl)
	}
	res.Spans = detected.Spans
	res.Unpaired = detected.Unpaired

	trimStarted := time.Now()
	trimCtx, span := observability.Tracer().Start(ctx, "audio.trim")
	span.SetAttributes(
		attribute.Int("annotation.spans", len(detected.Spans)),
		attribute.String("audio.format", format.Tag),
	)
	trimmed, err := c.trimmer.Trim(trimCtx, audio.RawBuffer{Data: acc.audio.Bytes(), Format: format}, detected.Spans)
	if err != nil {
		span.RecordError(err)
		span.End()
		return SynthesisResult{}, fmt.Errorf("trim synthesized audio: %w", err)
	}
	span.End()

	c.metrics.ObserveStage(observability.StageTrim, time.Since(trimStarted))
	c.metrics.ObserveTrim(len(detected.Spans), trimmed.RemovedMs, detected.Unpaired, res.MalformedAlignment)
	res.Audio = trimmed
	return res, nil
}
