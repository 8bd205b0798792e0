package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/protocol"
)

type options struct {
	baseURL     string
	userID      string
	wavPath     string
	text        string
	turns       int
	outDir      string
	turnTimeout time.Duration
	verbose     bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type audioClip struct {
	Label      string
	PCM16LE    []byte
	SampleRate int
}

type turnOutcome struct {
	Result  protocol.TurnResult
	Audio   []byte
	Latency time.Duration
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceclient: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.turns+1)*cfg.turnTimeout)
	defer cancel()
	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "voiceclient: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("voiceclient", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "assistant base URL")
	fs.StringVar(&cfg.userID, "user-id", "voiceclient", "user_id for the session")
	fs.StringVar(&cfg.wavPath, "wav", "", "16-bit WAV file to send as the utterance")
	fs.StringVar(&cfg.text, "text", "", "synthesize this text on the server and send it back as the utterance (when -wav is empty)")
	fs.IntVar(&cfg.turns, "turns", 1, "number of times to send the utterance")
	fs.StringVar(&cfg.outDir, "out", ".", "directory for reply WAV files")
	fs.DurationVar(&cfg.turnTimeout, "turn-timeout", 90*time.Second, "timeout waiting for each reply")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print turn progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.wavPath) == "" && strings.TrimSpace(cfg.text) == "" {
		return options{}, fmt.Errorf("one of -wav or -text is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.turnTimeout < time.Second {
		cfg.turnTimeout = time.Second
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, stdout io.Writer) error {
	httpClient := &http.Client{Timeout: cfg.turnTimeout}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	clip, err := loadClip(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("prepare utterance audio: %w", err)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Fprintf(stdout, "voiceclient: session=%s clip=%s sample_rate=%dHz bytes=%d\n", sessionID, clip.Label, clip.SampleRate, len(clip.PCM16LE))
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		return err
	}
	for i := 0; i < cfg.turns; i++ {
		started := time.Now()
		if err := sendUtterance(conn, clip); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		outcome, err := awaitTurn(conn, time.Now().Add(cfg.turnTimeout))
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		outcome.Latency = time.Since(started)

		path := filepath.Join(cfg.outDir, fmt.Sprintf("reply_%02d.wav", i+1))
		if len(outcome.Audio) > 0 {
			if err := os.WriteFile(path, outcome.Audio, 0o644); err != nil {
				return err
			}
		} else {
			path = "(no audio)"
		}
		if cfg.verbose {
			r := outcome.Result
			fmt.Fprintf(stdout, "voiceclient: turn %d/%d latency=%s heard=%q reply=%q audio=%dms removed=%dms spans=%d -> %s\n",
				i+1, cfg.turns, outcome.Latency.Round(time.Millisecond), r.Transcript, r.DisplayText, r.AudioMs, r.RemovedMs, len(r.Spans), path)
		}
	}

	_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionEnd})
	return nil
}

func loadClip(ctx context.Context, client *http.Client, cfg options) (audioClip, error) {
	if path := strings.TrimSpace(cfg.wavPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return audioClip{}, err
		}
		pcm, rate, err := audio.DecodeWAVPCM16Mono(data)
		if err != nil {
			return audioClip{}, err
		}
		return audioClip{Label: filepath.Base(path), PCM16LE: pcm, SampleRate: rate}, nil
	}
	return synthClip(ctx, client, cfg.baseURL, cfg.text)
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/voice/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/voice/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func synthClip(ctx context.Context, client *http.Client, baseURL, text string) (audioClip, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return audioClip{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/tts/synthesize", bytes.NewReader(payload))
	if err != nil {
		return audioClip{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return audioClip{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return audioClip{}, err
	}
	if res.StatusCode != http.StatusOK {
		return audioClip{}, fmt.Errorf("synthesize %q HTTP %d: %s", text, res.StatusCode, strings.TrimSpace(string(body)))
	}

	pcm, sampleRate, err := audio.DecodeWAVPCM16Mono(body)
	if err != nil {
		return audioClip{}, fmt.Errorf("decode synthesized wav for %q: %w", text, err)
	}
	if len(pcm) == 0 {
		return audioClip{}, fmt.Errorf("synthesized wav for %q produced no PCM bytes", text)
	}
	return audioClip{Label: "synthesized", PCM16LE: pcm, SampleRate: sampleRate}, nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sendUtterance uses a bare binary frame for 44.1 kHz audio and the JSON
// envelope for any other rate.
func sendUtterance(conn *websocket.Conn, clip audioClip) error {
	if clip.SampleRate == audio.OutputSampleRate {
		return conn.WriteMessage(websocket.BinaryMessage, clip.PCM16LE)
	}
	return conn.WriteJSON(protocol.ClientAudio{
		Type:        protocol.TypeClientAudio,
		PCM16Base64: base64.StdEncoding.EncodeToString(clip.PCM16LE),
		SampleRate:  clip.SampleRate,
	})
}

type wsEnvelope struct {
	Type   protocol.MessageType `json:"type"`
	Code   string               `json:"code,omitempty"`
	Detail string               `json:"detail,omitempty"`
}

// awaitTurn reads until the turn_result or error_event of the current turn.
// A binary frame before the result is the reply audio.
func awaitTurn(conn *websocket.Conn, deadline time.Time) (turnOutcome, error) {
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	var out turnOutcome
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return turnOutcome{}, fmt.Errorf("ws read: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			out.Audio = data
			continue
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeTurnResult:
			if err := json.Unmarshal(data, &out.Result); err != nil {
				return turnOutcome{}, fmt.Errorf("decode turn_result: %w", err)
			}
			return out, nil
		case protocol.TypeErrorEvent:
			return turnOutcome{}, fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
		}
	}
}
