package stt

import (
	"context"
	"fmt"
	"os"
)

// MockTranscriber returns fixed text for any readable file.
type MockTranscriber struct {
	Text string
}

func NewMockTranscriber(text string) *MockTranscriber {
	if text == "" {
		text = "simulated voice input"
	}
	return &MockTranscriber{Text: text}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, wavPath string) (Transcription, error) {
	if err := ctx.Err(); err != nil {
		return Transcription{}, err
	}
	if _, err := os.Stat(wavPath); err != nil {
		return Transcription{}, fmt.Errorf("mock stt: %w", err)
	}
	return Transcription{Text: m.Text, Confidence: 1}, nil
}
