package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/config"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/voice"
)

var namespaceSeq atomic.Int64

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Telemetry.MetricsNamespace = fmt.Sprintf("test_app_%d", namespaceSeq.Add(1))
	return cfg
}

func TestBuildOffline(t *testing.T) {
	cfg := testConfig()
	cfg.Memory.DatabaseURL = filepath.Join(t.TempDir(), "history.db")

	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if res.Status.STTProvider != "mock" || res.Status.LLMProvider != "mock" || res.Status.TTSProvider != "mock" {
		t.Fatalf("Status = %+v, want mock providers", res.Status)
	}
	if res.Status.MemoryBackend != "sqlite" {
		t.Fatalf("MemoryBackend = %q, want sqlite", res.Status.MemoryBackend)
	}

	sess := res.Sessions.Create("builder")
	out, err := res.Orchestrator.RunTurn(context.Background(), sess, make([]byte, 8820), 0)
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if out.Synthesis.Empty() || len(out.Synthesis.Spans) != 1 {
		t.Fatalf("synthesis = %+v, want trimmed audio with one span", out.Synthesis)
	}
}

func TestResolveProvidersWithKeys(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.TTS.APIKey = "xi-test"
	cfg.TTS.Failover = true
	metrics := observability.NewMetrics(cfg.Telemetry.MetricsNamespace)

	setup, err := resolveProviders(cfg, metrics, nil)
	if err != nil {
		t.Fatalf("resolveProviders() error = %v", err)
	}
	if setup.sttName != "openai" || setup.llmName != "openai" || setup.ttsName != "elevenlabs" {
		t.Fatalf("providers = %s/%s/%s", setup.sttName, setup.llmName, setup.ttsName)
	}
	if setup.failover == nil {
		t.Fatal("failover = nil, want failover synthesizer")
	}
	if _, ok := setup.synth.(*voice.FailoverSynthesizer); !ok {
		t.Fatalf("synth = %T, want *voice.FailoverSynthesizer", setup.synth)
	}
}

func TestResolveProvidersRequiresKeysWhenExplicit(t *testing.T) {
	cases := []struct {
		name string
		edit func(*config.Config)
	}{
		{"openai stt", func(c *config.Config) { c.STT.Provider = "openai" }},
		{"openai llm", func(c *config.Config) { c.LLM.Provider = "openai" }},
		{"elevenlabs", func(c *config.Config) { c.TTS.Provider = "elevenlabs" }},
		{"exec without command", func(c *config.Config) { c.STT.Provider = "exec" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.edit(&cfg)
			if _, err := resolveProviders(cfg, nil, nil); err == nil {
				t.Fatal("resolveProviders() error = nil, want error")
			}
		})
	}
}

func TestMemoryBackend(t *testing.T) {
	cases := map[string]string{
		"":                             "in-memory",
		"postgres://u@localhost/db":    "postgres",
		"postgresql://u@localhost/db":  "postgres",
		"sqlite:///var/lib/history.db": "sqlite",
		"history.db":                   "sqlite",
	}
	for in, want := range cases {
		if got := memoryBackend(in); got != want {
			t.Fatalf("memoryBackend(%q) = %q, want %q", in, got, want)
		}
	}
}
