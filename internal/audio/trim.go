package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
	"github.com/orcaman/writerseeker"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
)

const (
	OutputSampleRate = 44100
	OutputMIMEType   = "audio/wav"

	resampleQuality = 4
)

// OutputFormat is the canonical encoding of every trimmed buffer.
var OutputFormat = beep.Format{
	SampleRate:  beep.SampleRate(OutputSampleRate),
	NumChannels: 1,
	Precision:   2,
}

// RawBuffer is provider audio as received: concatenated chunks in arrival
// order plus the declared format.
type RawBuffer struct {
	Data   []byte
	Format Format
}

// Trimmed is the re-encoded result of a trim.
type Trimmed struct {
	Data           []byte
	Duration       time.Duration
	SourceDuration time.Duration
	// RemovedMs is what was actually cut after clamping spans to the audio.
	RemovedMs int
	Spans     int
}

func (t Trimmed) Empty() bool { return len(t.Data) == 0 }

type Trimmer struct {
	logger *slog.Logger
}

func NewTrimmer(logger *slog.Logger) *Trimmer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Trimmer{logger: logger.With(slog.String("component", "audio-trimmer"))}
}

// MsToSamples converts a millisecond offset to a sample index, rounding down.
// Every boundary goes through here so kept segments never overlap or gap.
func MsToSamples(rate beep.SampleRate, ms int) int {
	if ms <= 0 {
		return 0
	}
	return rate.N(time.Duration(ms) * time.Millisecond)
}

// Trim removes every span from raw and re-encodes what is left as OutputFormat.
// Spans must be ordered and computed against this buffer's own timeline;
// applying spans from a stale timeline to already-trimmed audio cuts the
// wrong regions.
func (t *Trimmer) Trim(ctx context.Context, raw RawBuffer, spans []annotation.Span) (Trimmed, error) {
	if raw.Format.Codec == CodecUnknown {
		return Trimmed{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw.Format.Tag)
	}
	if len(raw.Data) == 0 {
		return Trimmed{}, ErrNoAudio
	}

	stream, format, err := decode(raw)
	if err != nil {
		return Trimmed{}, err
	}
	buf := beep.NewBuffer(format)
	buf.Append(stream)
	stream.Close()
	if err := ctx.Err(); err != nil {
		return Trimmed{}, err
	}

	total := buf.Len()
	segments, kept := keptSegments(buf, format.SampleRate, spans)

	var out beep.Streamer = beep.Seq(segments...)
	if format.SampleRate != OutputFormat.SampleRate {
		out = beep.Resample(resampleQuality, format.SampleRate, OutputFormat.SampleRate, out)
	}

	ws := &writerseeker.WriterSeeker{}
	if err := wav.Encode(ws, out, OutputFormat); err != nil {
		return Trimmed{}, fmt.Errorf("encode wav: %w", err)
	}
	encoded, err := io.ReadAll(ws.BytesReader())
	if err != nil {
		return Trimmed{}, fmt.Errorf("read encoded wav: %w", err)
	}

	res := Trimmed{
		Data:           encoded,
		Duration:       format.SampleRate.D(kept),
		SourceDuration: format.SampleRate.D(total),
		RemovedMs:      int(format.SampleRate.D(total-kept) / time.Millisecond),
		Spans:          len(spans),
	}
	t.logger.Debug("audio trimmed",
		slog.String("format", raw.Format.Tag),
		slog.Int("spans", len(spans)),
		slog.Duration("source", res.SourceDuration),
		slog.Duration("output", res.Duration),
	)
	return res, nil
}

// keptSegments walks spans in order and returns the slices between them plus
// the number of kept samples. Spans are clamped to the buffer and to the end of
// the previous span.
func keptSegments(buf *beep.Buffer, rate beep.SampleRate, spans []annotation.Span) ([]beep.Streamer, int) {
	total := buf.Len()
	segments := make([]beep.Streamer, 0, len(spans)+1)
	kept := 0
	prev := 0
	for _, span := range spans {
		start := clamp(MsToSamples(rate, span.StartMs), prev, total)
		end := clamp(MsToSamples(rate, span.EndMs), start, total)
		if start > prev {
			segments = append(segments, buf.Streamer(prev, start))
			kept += start - prev
		}
		prev = end
	}
	if prev < total {
		segments = append(segments, buf.Streamer(prev, total))
		kept += total - prev
	}
	return segments, kept
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func decode(raw RawBuffer) (beep.StreamSeekCloser, beep.Format, error) {
	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch raw.Format.Codec {
	case CodecMP3:
		stream, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(raw.Data)))
	case CodecWAV:
		stream, format, err = wav.Decode(bytes.NewReader(raw.Data))
	case CodecPCM:
		// Chunks end on whole samples; a dangling byte can only come from a
		// torn final chunk.
		pcm := raw.Data[:len(raw.Data)&^1]
		var wrapped []byte
		wrapped, err = EncodeWAVPCM16LE(pcm, raw.Format.SampleRate)
		if err == nil {
			stream, format, err = wav.Decode(bytes.NewReader(wrapped))
		}
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw.Format.Tag)
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("%w (%s): %v", ErrDecode, raw.Format.Codec, err)
	}
	return stream, format, nil
}
