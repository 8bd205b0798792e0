package voice

import (
	"context"
	"errors"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
)

// ErrChannelClosed is returned by Channel.ReadMessage when the remote side
// closed the stream normally.
var ErrChannelClosed = errors.New("channel closed")

// Channel is a duplex message channel to a streaming synthesis provider.
type Channel interface {
	WriteJSON(ctx context.Context, v any) error
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}

// Synthesizer turns text into finished, annotation-free audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (SynthesisResult, error)
}

type VoiceSettings struct {
	Stability       float64 `json:"stability" yaml:"stability"`
	SimilarityBoost float64 `json:"similarity_boost" yaml:"similarity_boost"`
}

// SynthesisResult is the outcome of one synthesis request. Audio is empty when
// the provider ended the stream before sending any audio.
type SynthesisResult struct {
	Audio  audio.Trimmed
	Format string
	Spans  []annotation.Span
	// Unpaired is set when markers were found but could not be paired.
	Unpaired bool
	// MalformedAlignment is set when the alignment blocks failed validation.
	MalformedAlignment bool
	Chunks             int
	Blocks             int
	EndReason          string
}

func (r SynthesisResult) Empty() bool { return r.Audio.Empty() }

// Stream end reasons.
const (
	EndComplete       = "complete"
	EndAudioOnly      = "audio_only"
	EndClosed         = "closed"
	EndChannelFailure = "channel_failure"
	EndProviderError  = "provider_error"
	EndBadChunk       = "bad_chunk"
)
