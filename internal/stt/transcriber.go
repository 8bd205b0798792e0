package stt

import "context"

// Transcription is the text recognized from one utterance.
type Transcription struct {
	Text       string
	Confidence float64
}

// Transcriber abstracts speech-to-text backends. wavPath points to a mono
// 16-bit 44.1 kHz WAV file.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (Transcription, error)
}
