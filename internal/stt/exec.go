package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

type ExecConfig struct {
	Command  string
	Language string
}

// ExecTranscriber runs a local recognizer command. The command receives
// `--audio <wav>` (and `--language <code>` when set) and must print
// {"text": ..., "confidence": ...} to stdout.
type ExecTranscriber struct {
	cmd      []string
	language string
	logger   *slog.Logger
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecTranscriber(cfg ExecConfig, logger *slog.Logger) (*ExecTranscriber, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("stt command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecTranscriber{
		cmd:      args,
		language: cfg.Language,
		logger:   logger.With(slog.String("component", "stt-exec")),
	}, nil
}

func (r *ExecTranscriber) Transcribe(ctx context.Context, wavPath string) (Transcription, error) {
	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", wavPath)
	if r.language != "" {
		args = append(args, "--language", r.language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Transcription{}, ctxErr
		}
		return Transcription{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Transcription{}, fmt.Errorf("decode stt response: %w", err)
	}
	r.logger.Debug("audio transcribed", slog.String("command", r.cmd[0]), slog.Int("chars", len(resp.Text)))
	return Transcription{Text: strings.TrimSpace(resp.Text), Confidence: resp.Confidence}, nil
}
