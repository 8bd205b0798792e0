package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	BindAddr                 string        `yaml:"bind_addr"`
	ShutdownTimeout          time.Duration `yaml:"shutdown_timeout"`
	SessionInactivityTimeout time.Duration `yaml:"session_inactivity_timeout"`
	TurnTimeout              time.Duration `yaml:"turn_timeout"`
	MaxUtteranceBytes        int           `yaml:"max_utterance_bytes"`
	AllowAnyOrigin           bool          `yaml:"allow_any_origin"`
}

type TelemetryConfig struct {
	ServiceName      string `yaml:"service_name"`
	Environment      string `yaml:"environment"`
	LogLevel         string `yaml:"log_level"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	OTLPEndpoint     string `yaml:"otlp_endpoint"`
	OTLPInsecure     bool   `yaml:"otlp_insecure"`
	TraceStdout      bool   `yaml:"trace_stdout"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type STTConfig struct {
	Provider string `yaml:"provider"` // auto, openai, exec, mock
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Command  string `yaml:"command"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // auto, openai, mock
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type TTSConfig struct {
	Provider         string  `yaml:"provider"` // auto, elevenlabs, mock
	Failover         bool    `yaml:"failover"`
	APIKey           string  `yaml:"api_key"`
	WSBaseURL        string  `yaml:"ws_base_url"`
	VoiceID          string  `yaml:"voice_id"`
	ModelID          string  `yaml:"model_id"`
	OutputFormat     string  `yaml:"output_format"`
	Stability        float64 `yaml:"stability"`
	SimilarityBoost  float64 `yaml:"similarity_boost"`
	AnnotationMarker string  `yaml:"annotation_marker"`
}

type MemoryConfig struct {
	DatabaseURL  string `yaml:"database_url"`
	HistoryLimit int    `yaml:"history_limit"`
}

// Config contains all runtime settings for the voice assistant.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	STT       STTConfig       `yaml:"stt"`
	LLM       LLMConfig       `yaml:"llm"`
	TTS       TTSConfig       `yaml:"tts"`
	Memory    MemoryConfig    `yaml:"memory"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			BindAddr:                 ":8080",
			ShutdownTimeout:          15 * time.Second,
			SessionInactivityTimeout: 2 * time.Minute,
			TurnTimeout:              90 * time.Second,
			// One minute of 44.1 kHz mono PCM16.
			MaxUtteranceBytes: 44100 * 2 * 60,
		},
		Telemetry: TelemetryConfig{
			ServiceName:      "voice-assistant",
			Environment:      "dev",
			LogLevel:         "info",
			MetricsNamespace: "assistant",
		},
		STT: STTConfig{
			Provider: "auto",
			Model:    "whisper-1",
			Language: "en",
		},
		LLM: LLMConfig{
			Provider: "auto",
			Model:    "gpt-4o",
		},
		TTS: TTSConfig{
			Provider:         "auto",
			WSBaseURL:        "wss://api.elevenlabs.io",
			VoiceID:          "TxGEqnHWrfWFTfGW9XjX",
			ModelID:          "eleven_monolingual_v1",
			OutputFormat:     "mp3_44100",
			Stability:        0.25,
			SimilarityBoost:  0.75,
			AnnotationMarker: "--",
		},
		Memory: MemoryConfig{
			HistoryLimit: 10,
		},
	}
}

// Load applies defaults, then the YAML file at path (if any), then
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.Server.BindAddr)
	cfg.Telemetry.ServiceName = envOrDefault("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.Environment = envOrDefault("APP_ENV", cfg.Telemetry.Environment)
	cfg.Telemetry.LogLevel = envOrDefault("LOG_LEVEL", cfg.Telemetry.LogLevel)
	cfg.Telemetry.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.Telemetry.MetricsNamespace)
	cfg.Telemetry.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.OpenAI.APIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.STT.Provider = envOrDefault("STT_PROVIDER", cfg.STT.Provider)
	cfg.STT.Model = envOrDefault("STT_MODEL", cfg.STT.Model)
	cfg.STT.Language = envOrDefault("STT_LANGUAGE", cfg.STT.Language)
	cfg.STT.Command = envOrDefault("STT_COMMAND", cfg.STT.Command)
	cfg.LLM.Provider = envOrDefault("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = envOrDefault("LLM_MODEL", cfg.LLM.Model)
	cfg.TTS.Provider = envOrDefault("TTS_PROVIDER", cfg.TTS.Provider)
	cfg.TTS.APIKey = envOrDefault("ELEVENLABS_API_KEY", cfg.TTS.APIKey)
	cfg.TTS.WSBaseURL = envOrDefault("ELEVENLABS_WS_BASE_URL", cfg.TTS.WSBaseURL)
	cfg.TTS.VoiceID = envOrDefault("ELEVENLABS_VOICE_ID", cfg.TTS.VoiceID)
	cfg.TTS.ModelID = envOrDefault("ELEVENLABS_MODEL_ID", cfg.TTS.ModelID)
	cfg.TTS.OutputFormat = envOrDefault("ELEVENLABS_OUTPUT_FORMAT", cfg.TTS.OutputFormat)
	cfg.TTS.AnnotationMarker = envOrDefault("ANNOTATION_MARKER", cfg.TTS.AnnotationMarker)
	cfg.Memory.DatabaseURL = envOrDefault("DATABASE_URL", cfg.Memory.DatabaseURL)

	var err error
	if cfg.Server.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if cfg.Server.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.Server.SessionInactivityTimeout); err != nil {
		return err
	}
	if cfg.Server.TurnTimeout, err = durationFromEnv("APP_TURN_TIMEOUT", cfg.Server.TurnTimeout); err != nil {
		return err
	}
	if cfg.Server.MaxUtteranceBytes, err = intFromEnv("APP_MAX_UTTERANCE_BYTES", cfg.Server.MaxUtteranceBytes); err != nil {
		return err
	}
	if cfg.Server.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.Server.AllowAnyOrigin); err != nil {
		return err
	}
	if cfg.Telemetry.OTLPInsecure, err = boolFromEnv("OTEL_EXPORTER_OTLP_INSECURE", cfg.Telemetry.OTLPInsecure); err != nil {
		return err
	}
	if cfg.Telemetry.TraceStdout, err = boolFromEnv("TRACE_STDOUT", cfg.Telemetry.TraceStdout); err != nil {
		return err
	}
	if cfg.LLM.Temperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLM.Temperature); err != nil {
		return err
	}
	if cfg.LLM.MaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLM.MaxTokens); err != nil {
		return err
	}
	if cfg.TTS.Failover, err = boolFromEnv("TTS_FAILOVER", cfg.TTS.Failover); err != nil {
		return err
	}
	if cfg.TTS.Stability, err = floatFromEnv("ELEVENLABS_STABILITY", cfg.TTS.Stability); err != nil {
		return err
	}
	if cfg.TTS.SimilarityBoost, err = floatFromEnv("ELEVENLABS_SIMILARITY_BOOST", cfg.TTS.SimilarityBoost); err != nil {
		return err
	}
	if cfg.Memory.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.Memory.HistoryLimit); err != nil {
		return err
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.Server.SessionInactivityTimeout < 5*time.Second {
		return errors.New("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.Server.TurnTimeout <= 0 {
		return errors.New("APP_TURN_TIMEOUT must be positive")
	}
	if cfg.Server.MaxUtteranceBytes <= 0 {
		return errors.New("APP_MAX_UTTERANCE_BYTES must be positive")
	}
	if !oneOf(cfg.STT.Provider, "auto", "openai", "exec", "mock") {
		return fmt.Errorf("STT_PROVIDER %q is not one of auto, openai, exec, mock", cfg.STT.Provider)
	}
	if cfg.STT.Provider == "exec" && strings.TrimSpace(cfg.STT.Command) == "" {
		return errors.New("STT_COMMAND is required when STT_PROVIDER=exec")
	}
	if !oneOf(cfg.LLM.Provider, "auto", "openai", "mock") {
		return fmt.Errorf("LLM_PROVIDER %q is not one of auto, openai, mock", cfg.LLM.Provider)
	}
	if !oneOf(cfg.TTS.Provider, "auto", "elevenlabs", "mock") {
		return fmt.Errorf("TTS_PROVIDER %q is not one of auto, elevenlabs, mock", cfg.TTS.Provider)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return errors.New("LLM_TEMPERATURE must be within [0, 2]")
	}
	if cfg.TTS.Stability < 0 || cfg.TTS.Stability > 1 {
		return errors.New("ELEVENLABS_STABILITY must be within [0, 1]")
	}
	if cfg.TTS.SimilarityBoost < 0 || cfg.TTS.SimilarityBoost > 1 {
		return errors.New("ELEVENLABS_SIMILARITY_BOOST must be within [0, 1]")
	}
	if strings.TrimSpace(cfg.TTS.AnnotationMarker) == "" {
		return errors.New("ANNOTATION_MARKER must not be blank")
	}
	if cfg.Memory.HistoryLimit < 2 {
		return errors.New("HISTORY_LIMIT must be at least 2")
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
