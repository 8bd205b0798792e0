package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/config"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/httpapi"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/llm"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/memory"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/session"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Status       httpapi.Status

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.Telemetry.MetricsNamespace)

	memoryStore, err := memory.NewStore(ctx, cfg.Memory.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	providers, err := resolveProviders(cfg, metrics, logger)
	if err != nil {
		_ = memoryStore.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.Server.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.ObserveSessionEvent("expired")
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	orchestrator := voice.NewOrchestrator(
		sessions,
		providers.transcriber,
		llm.NewGenerator(providers.chat, cfg.TTS.AnnotationMarker, logger),
		memory.NewHistory(memoryStore, cfg.Memory.HistoryLimit, logger),
		providers.synth,
		metrics,
		voice.OrchestratorConfig{
			TurnTimeout: cfg.Server.TurnTimeout,
			Marker:      cfg.TTS.AnnotationMarker,
		},
		logger,
	)

	status := httpapi.Status{
		STTProvider:   providers.sttName,
		LLMProvider:   providers.llmName,
		TTSProvider:   providers.ttsName,
		MemoryBackend: memoryBackend(cfg.Memory.DatabaseURL),
		OutputFormat:  cfg.TTS.OutputFormat,
		Marker:        cfg.TTS.AnnotationMarker,
	}
	if providers.failover != nil {
		status.FallbackActive = providers.failover.FallbackActive
	}
	logger.Info("providers resolved",
		slog.String("stt", status.STTProvider),
		slog.String("llm", status.LLMProvider),
		slog.String("tts", status.TTSProvider),
		slog.Bool("tts_failover", providers.failover != nil),
		slog.String("memory", status.MemoryBackend),
	)

	api := httpapi.New(cfg.Server, sessions, orchestrator, status, metrics, logger)

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Status:       status,
		Cleanup: func() error {
			if err := memoryStore.Close(); err != nil {
				return fmt.Errorf("close memory store: %w", err)
			}
			return nil
		},
	}, nil
}

func memoryBackend(databaseURL string) string {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return "in-memory"
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}
