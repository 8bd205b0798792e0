package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/config"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/llm"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/stt"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/voice"
)

type providerSetup struct {
	transcriber stt.Transcriber
	chat        llm.ChatModel
	synth       voice.Synthesizer
	failover    *voice.FailoverSynthesizer

	sttName string
	llmName string
	ttsName string
}

// resolveProviders picks a backend per stage. "auto" prefers the hosted
// provider when its key is present and falls back to the offline mock.
func resolveProviders(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (providerSetup, error) {
	var setup providerSetup
	openAIKey := strings.TrimSpace(cfg.OpenAI.APIKey)

	switch mode := strings.ToLower(strings.TrimSpace(cfg.STT.Provider)); {
	case mode == "openai" || (mode == "auto" && openAIKey != ""):
		t, err := stt.NewWhisperTranscriber(stt.WhisperConfig{
			APIKey:   openAIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.STT.Model,
			Language: cfg.STT.Language,
		}, metrics, logger)
		if err != nil {
			return setup, fmt.Errorf("STT_PROVIDER=openai: %w", err)
		}
		setup.transcriber, setup.sttName = t, "openai"
	case mode == "exec":
		t, err := stt.NewExecTranscriber(stt.ExecConfig{
			Command:  cfg.STT.Command,
			Language: cfg.STT.Language,
		}, logger)
		if err != nil {
			return setup, fmt.Errorf("STT_PROVIDER=exec: %w", err)
		}
		setup.transcriber, setup.sttName = t, "exec"
	default:
		setup.transcriber, setup.sttName = stt.NewMockTranscriber(""), "mock"
	}

	switch mode := strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)); {
	case mode == "openai" || (mode == "auto" && openAIKey != ""):
		c, err := llm.NewOpenAIChat(llm.OpenAIConfig{
			APIKey:      openAIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: float32(cfg.LLM.Temperature),
			MaxTokens:   cfg.LLM.MaxTokens,
		}, metrics, logger)
		if err != nil {
			return setup, fmt.Errorf("LLM_PROVIDER=openai: %w", err)
		}
		setup.chat, setup.llmName = c, "openai"
	default:
		setup.chat, setup.llmName = llm.NewMockChat(), "mock"
	}

	mock := voice.NewMockSynthesizer(cfg.TTS.AnnotationMarker, metrics, logger)
	elevenKey := strings.TrimSpace(cfg.TTS.APIKey)
	switch mode := strings.ToLower(strings.TrimSpace(cfg.TTS.Provider)); {
	case mode == "elevenlabs" || (mode == "auto" && elevenKey != ""):
		s, err := voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
			APIKey:       elevenKey,
			WSBaseURL:    cfg.TTS.WSBaseURL,
			VoiceID:      cfg.TTS.VoiceID,
			ModelID:      cfg.TTS.ModelID,
			OutputFormat: cfg.TTS.OutputFormat,
			Settings: voice.VoiceSettings{
				Stability:       cfg.TTS.Stability,
				SimilarityBoost: cfg.TTS.SimilarityBoost,
			},
			Marker: cfg.TTS.AnnotationMarker,
		}, metrics, logger)
		if err != nil {
			return setup, fmt.Errorf("TTS_PROVIDER=elevenlabs: %w", err)
		}
		setup.synth, setup.ttsName = s, "elevenlabs"
		if cfg.TTS.Failover {
			setup.failover = voice.NewFailoverSynthesizer(s, mock, logger)
			setup.synth = setup.failover
		}
	default:
		setup.synth, setup.ttsName = mock, "mock"
	}

	return setup, nil
}
