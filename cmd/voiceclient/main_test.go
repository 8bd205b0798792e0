package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/app"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/config"
)

func TestParseFlagsRequiresInput(t *testing.T) {
	if _, err := parseFlags([]string{"-turns", "2"}); err == nil {
		t.Fatal("parseFlags() error = nil, want missing input error")
	}
	cfg, err := parseFlags([]string{"-text", "hello", "-base-url", "http://host:9/"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.baseURL != "http://host:9" || cfg.turns != 1 {
		t.Fatalf("options = %+v", cfg)
	}
}

func TestWSURLForSession(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/ws?session_id=s+1"},
		{"https://assistant.example/api/", "wss://assistant.example/api/ws?session_id=s+1"},
	}
	for _, tc := range cases {
		got, err := wsURLForSession(tc.base, "s 1")
		if err != nil {
			t.Fatalf("wsURLForSession(%q) error = %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("wsURLForSession(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
	if _, err := wsURLForSession("ftp://host", "s"); err == nil {
		t.Fatal("wsURLForSession(ftp) error = nil, want error")
	}
}

func TestRunAgainstOfflineAssistant(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.MetricsNamespace = fmt.Sprintf("test_voiceclient_%d", time.Now().UnixNano())
	built, err := app.Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer built.Cleanup()
	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	dir := t.TempDir()
	wavPath := filepath.Join(dir, "in.wav")
	if err := audio.WriteWAVPCM16LEFile(wavPath, make([]byte, 16000), 16000); err != nil {
		t.Fatalf("WriteWAVPCM16LEFile() error = %v", err)
	}

	var stdout bytes.Buffer
	err = run(context.Background(), options{
		baseURL:     ts.URL,
		userID:      "tester",
		wavPath:     wavPath,
		turns:       2,
		outDir:      filepath.Join(dir, "out"),
		turnTimeout: 10 * time.Second,
		verbose:     true,
	}, &stdout)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	for _, name := range []string{"reply_01.wav", "reply_02.wav"} {
		data, err := os.ReadFile(filepath.Join(dir, "out", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if _, rate, err := audio.DecodeWAVPCM16Mono(data); err != nil || rate != audio.OutputSampleRate {
			t.Fatalf("%s rate = %d, err = %v", name, rate, err)
		}
	}
	if !strings.Contains(stdout.String(), "turn 2/2") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}
