package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/llm"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/memory"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/session"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/stt"
)

var (
	ErrEmptyUtterance = errors.New("utterance has no audio")
	ErrNoSpeech       = errors.New("no speech recognized")
	ErrEmptyText      = errors.New("nothing to synthesize")
)

// Turn stages, also reported to clients as the error source.
const (
	StageInput     = "input"
	StageSTT       = "stt"
	StageLLM       = "llm"
	StageSynthesis = "tts"
)

const (
	historyTimeout     = 2 * time.Second
	historySaveTimeout = 2 * time.Second
)

// TurnError tags a failed turn with the stage that failed.
type TurnError struct {
	Stage string
	Err   error
}

func (e *TurnError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *TurnError) Unwrap() error { return e.Err }

type OrchestratorConfig struct {
	TurnTimeout time.Duration
	// TempDir receives the per-turn WAV handed to the transcriber.
	TempDir string
	Marker  string
}

// TurnOutput is everything a relay needs to answer one utterance.
type TurnOutput struct {
	TurnID      string
	Transcript  string
	Reply       string
	DisplayText string
	Synthesis   SynthesisResult
}

// Orchestrator runs the relay pipeline: utterance to transcript, transcript to
// annotated reply, reply to trimmed speech.
type Orchestrator struct {
	sessions    *session.Manager
	transcriber stt.Transcriber
	generator   *llm.Generator
	history     *memory.History
	synth       Synthesizer
	metrics     *observability.Metrics
	cfg         OrchestratorConfig
	logger      *slog.Logger
}

func NewOrchestrator(
	sessions *session.Manager,
	transcriber stt.Transcriber,
	generator *llm.Generator,
	history *memory.History,
	synth Synthesizer,
	metrics *observability.Metrics,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 90 * time.Second
	}
	if cfg.Marker == "" {
		cfg.Marker = annotation.DefaultMarker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions:    sessions,
		transcriber: transcriber,
		generator:   generator,
		history:     history,
		synth:       synth,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// RunTurn answers one utterance of PCM16LE mono audio at sampleRate (0 means
// 44.1 kHz). The turn is abandoned as soon as ctx is cancelled.
func (o *Orchestrator) RunTurn(ctx context.Context, s *session.Session, pcm []byte, sampleRate int) (TurnOutput, error) {
	turnID, err := o.sessions.StartTurn(s.ID)
	if err != nil {
		return TurnOutput{}, &TurnError{Stage: StageInput, Err: err}
	}
	failed := true
	defer func() {
		_ = o.sessions.FinishTurn(s.ID, turnID, failed)
	}()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()
	ctx, span := observability.Tracer().Start(ctx, "voice.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("turn.id", turnID),
		attribute.Int("utterance.bytes", len(pcm)),
	)

	started := time.Now()
	logger := o.logger.With(slog.String("session_id", s.ID), slog.String("turn_id", turnID))
	out := TurnOutput{TurnID: turnID}

	wavPath, err := o.writeUtterance(turnID, pcm, sampleRate)
	if err != nil {
		return out, &TurnError{Stage: StageInput, Err: err}
	}
	defer os.Remove(wavPath)

	transcription, err := o.transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		span.RecordError(err)
		return out, &TurnError{Stage: StageSTT, Err: err}
	}
	out.Transcript = strings.TrimSpace(transcription.Text)
	if out.Transcript == "" {
		return out, &TurnError{Stage: StageSTT, Err: ErrNoSpeech}
	}
	logger.Info("utterance transcribed", slog.Int("chars", len(out.Transcript)))

	lines := o.historyLines(ctx, s.UserID, logger)
	reply, err := o.generator.Generate(ctx, out.Transcript, lines)
	if err != nil {
		span.RecordError(err)
		return out, &TurnError{Stage: StageLLM, Err: err}
	}
	out.Reply = reply
	out.DisplayText = stripAnnotations(reply, o.cfg.Marker)

	res, err := o.synthesize(ctx, reply)
	if err != nil {
		span.RecordError(err)
		return out, &TurnError{Stage: StageSynthesis, Err: err}
	}
	out.Synthesis = res

	o.saveHistory(ctx, s, out, logger)

	elapsed := time.Since(started)
	o.metrics.ObserveStage(observability.StageTurnTotal, elapsed)
	logger.Info("turn completed",
		slog.Duration("elapsed", elapsed),
		slog.Int("spans", len(res.Spans)),
		slog.Duration("audio", res.Audio.Duration),
		slog.String("end_reason", res.EndReason),
	)
	failed = false
	return out, nil
}

// Synthesize speaks text without a conversation turn.
func (o *Orchestrator) Synthesize(ctx context.Context, text string) (SynthesisResult, error) {
	return o.synthesize(ctx, text)
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) (SynthesisResult, error) {
	speech := sanitizeSpeechText(text, o.cfg.Marker)
	if speech == "" {
		return SynthesisResult{}, ErrEmptyText
	}
	return o.synth.Synthesize(ctx, speech)
}

func (o *Orchestrator) writeUtterance(turnID string, pcm []byte, sampleRate int) (string, error) {
	if len(pcm)%2 == 1 {
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return "", ErrEmptyUtterance
	}
	if sampleRate <= 0 {
		sampleRate = audio.OutputSampleRate
	}

	dir := o.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "utterance_"+turnID+".wav")
	if err := audio.WriteWAVPCM16LEFile(path, pcm, sampleRate); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write utterance: %w", err)
	}
	return path, nil
}

// historyLines is best effort: a turn without history still gets a reply.
func (o *Orchestrator) historyLines(ctx context.Context, userID string, logger *slog.Logger) []string {
	if o.history == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()
	lines, err := o.history.Lines(ctx, userID)
	if err != nil {
		o.metrics.ObserveSessionEvent("history_load_failed")
		logger.Warn("history unavailable", slog.String("error", err.Error()))
		return nil
	}
	return lines
}

func (o *Orchestrator) saveHistory(ctx context.Context, s *session.Session, out TurnOutput, logger *slog.Logger) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historySaveTimeout)
	defer cancel()
	if err := o.history.Append(ctx, s.UserID, s.ID, out.Transcript, out.Reply); err != nil {
		o.metrics.ObserveSessionEvent("history_save_failed")
		logger.Warn("history not saved", slog.String("error", err.Error()))
	}
}
