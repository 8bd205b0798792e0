package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
)

type level struct {
	ms    int
	value int16
}

// pcmLevels renders consecutive constant-valued segments as PCM16LE mono.
func pcmLevels(rate int, levels ...level) []byte {
	var out []byte
	for _, l := range levels {
		n := rate * l.ms / 1000
		for i := 0; i < n; i++ {
			out = binary.LittleEndian.AppendUint16(out, uint16(l.value))
		}
	}
	return out
}

func pcmFormat(t *testing.T, tag string) Format {
	t.Helper()
	f, err := ParseFormat(tag)
	if err != nil {
		t.Fatalf("ParseFormat(%q) error = %v", tag, err)
	}
	return f
}

func decodeOutput(t *testing.T, data []byte) []int16 {
	t.Helper()
	pcm, rate, err := DecodeWAVPCM16Mono(data)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16Mono() error = %v", err)
	}
	if rate != OutputSampleRate {
		t.Fatalf("output sample rate = %d, want %d", rate, OutputSampleRate)
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func near(got int16, want int16) bool {
	d := int(got) - int(want)
	return d >= -4 && d <= 4
}

func TestTrimWithoutSpansKeepsDuration(t *testing.T) {
	raw := RawBuffer{Data: pcmLevels(44100, level{1000, 1200}), Format: pcmFormat(t, "pcm_44100")}

	res, err := NewTrimmer(nil).Trim(context.Background(), raw, nil)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if res.Duration != time.Second {
		t.Fatalf("Duration = %v, want 1s", res.Duration)
	}
	if res.RemovedMs != 0 {
		t.Fatalf("RemovedMs = %d, want 0", res.RemovedMs)
	}
	if got := len(decodeOutput(t, res.Data)); got != 44100 {
		t.Fatalf("output samples = %d, want 44100", got)
	}
}

func TestTrimCutsSpanAndJoinsNeighbours(t *testing.T) {
	raw := RawBuffer{
		Data: pcmLevels(44100,
			level{100, 1000},
			level{300, -8000},
			level{600, 5000},
		),
		Format: pcmFormat(t, "pcm_44100"),
	}
	spans := []annotation.Span{{StartMs: 100, EndMs: 400}}

	res, err := NewTrimmer(nil).Trim(context.Background(), raw, spans)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if res.Duration != 700*time.Millisecond {
		t.Fatalf("Duration = %v, want 700ms", res.Duration)
	}
	if res.RemovedMs != 300 {
		t.Fatalf("RemovedMs = %d, want 300", res.RemovedMs)
	}

	samples := decodeOutput(t, res.Data)
	if len(samples) != 30870 {
		t.Fatalf("output samples = %d, want 30870", len(samples))
	}
	if !near(samples[0], 1000) || !near(samples[4409], 1000) {
		t.Fatalf("head = (%d, %d), want ~1000", samples[0], samples[4409])
	}
	if !near(samples[4410], 5000) || !near(samples[len(samples)-1], 5000) {
		t.Fatalf("tail = (%d, %d), want ~5000", samples[4410], samples[len(samples)-1])
	}
	for i, s := range samples {
		if s < 0 {
			t.Fatalf("sample %d = %d: excised region leaked into output", i, s)
		}
	}
}

func TestTrimFullSpanYieldsEmptyAudio(t *testing.T) {
	raw := RawBuffer{Data: pcmLevels(44100, level{1000, 300}), Format: pcmFormat(t, "pcm_44100")}

	res, err := NewTrimmer(nil).Trim(context.Background(), raw, []annotation.Span{{StartMs: 0, EndMs: 1000}})
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if res.Duration != 0 {
		t.Fatalf("Duration = %v, want 0", res.Duration)
	}
	if res.RemovedMs != 1000 {
		t.Fatalf("RemovedMs = %d, want 1000", res.RemovedMs)
	}
}

func TestTrimClampsSpansToAudioLength(t *testing.T) {
	raw := RawBuffer{Data: pcmLevels(44100, level{1000, 300}), Format: pcmFormat(t, "pcm_44100")}
	spans := []annotation.Span{{StartMs: 900, EndMs: 5000}, {StartMs: 6000, EndMs: 7000}}

	res, err := NewTrimmer(nil).Trim(context.Background(), raw, spans)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if res.Duration != 900*time.Millisecond {
		t.Fatalf("Duration = %v, want 900ms", res.Duration)
	}
}

func TestTrimMultipleSpans(t *testing.T) {
	raw := RawBuffer{Data: pcmLevels(44100, level{1000, 300}), Format: pcmFormat(t, "pcm_44100")}
	spans := []annotation.Span{{StartMs: 0, EndMs: 150}, {StartMs: 500, EndMs: 650}}

	res, err := NewTrimmer(nil).Trim(context.Background(), raw, spans)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if res.Duration != 700*time.Millisecond {
		t.Fatalf("Duration = %v, want 700ms", res.Duration)
	}
	if res.Spans != 2 {
		t.Fatalf("Spans = %d, want 2", res.Spans)
	}
}

func TestTrimResamplesToOutputRate(t *testing.T) {
	raw := RawBuffer{Data: pcmLevels(22050, level{1000, 2000}), Format: pcmFormat(t, "pcm_22050")}

	res, err := NewTrimmer(nil).Trim(context.Background(), raw, []annotation.Span{{StartMs: 500, EndMs: 1000}})
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if res.Duration != 500*time.Millisecond {
		t.Fatalf("Duration = %v, want 500ms", res.Duration)
	}
	got := len(decodeOutput(t, res.Data))
	if got < 22050-64 || got > 22050+64 {
		t.Fatalf("output samples = %d, want about 22050", got)
	}
}

func TestTrimAcceptsWAVInput(t *testing.T) {
	wavBytes, err := EncodeWAVPCM16LE(pcmLevels(44100, level{500, 700}), 44100)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	raw := RawBuffer{Data: wavBytes, Format: pcmFormat(t, "wav_44100")}

	res, err := NewTrimmer(nil).Trim(context.Background(), raw, []annotation.Span{{StartMs: 100, EndMs: 200}})
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if res.Duration != 400*time.Millisecond {
		t.Fatalf("Duration = %v, want 400ms", res.Duration)
	}
}

// three_chunks_44100_mono.mp3 is the same 21-frame MP3 payload streamed three
// times back to back, 63 frames of 1152 samples in all.
func TestTrimAcceptsMP3Input(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "three_chunks_44100_mono.mp3"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	raw := RawBuffer{Data: data, Format: pcmFormat(t, "mp3_44100_128")}
	if raw.Format.Codec != CodecMP3 {
		t.Fatalf("Codec = %v, want %v", raw.Format.Codec, CodecMP3)
	}

	res, err := NewTrimmer(nil).Trim(context.Background(), raw, []annotation.Span{{StartMs: 500, EndMs: 1000}})
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	frames := 63 * 1152 * time.Second / 44100
	if res.SourceDuration < frames-30*time.Millisecond || res.SourceDuration > frames+30*time.Millisecond {
		t.Fatalf("SourceDuration = %v, want about %v", res.SourceDuration, frames)
	}
	if res.RemovedMs != 500 {
		t.Fatalf("RemovedMs = %d, want 500", res.RemovedMs)
	}
	if gap := res.SourceDuration - res.Duration - 500*time.Millisecond; gap < -time.Millisecond || gap > time.Millisecond {
		t.Fatalf("Duration = %v, want SourceDuration - 500ms (%v)", res.Duration, res.SourceDuration-500*time.Millisecond)
	}

	want := int(res.Duration * OutputSampleRate / time.Second)
	if got := len(decodeOutput(t, res.Data)); got < want-2 || got > want+2 {
		t.Fatalf("output samples = %d, want about %d", got, want)
	}
}

func TestTrimRejectsUnsupportedFormat(t *testing.T) {
	raw := RawBuffer{Data: []byte{1, 2, 3, 4}, Format: Format{Tag: "ulaw_8000"}}
	res, err := NewTrimmer(nil).Trim(context.Background(), raw, nil)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Trim() error = %v, want ErrUnsupportedFormat", err)
	}
	if !res.Empty() {
		t.Fatalf("Trim() returned %d bytes alongside an error", len(res.Data))
	}
}

func TestTrimReportsUndecodableInput(t *testing.T) {
	raw := RawBuffer{Data: []byte("definitely not a wav file"), Format: pcmFormat(t, "wav_44100")}
	_, err := NewTrimmer(nil).Trim(context.Background(), raw, nil)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Trim() error = %v, want ErrDecode", err)
	}
}

func TestTrimEmptyInput(t *testing.T) {
	raw := RawBuffer{Format: pcmFormat(t, "pcm_44100")}
	if _, err := NewTrimmer(nil).Trim(context.Background(), raw, nil); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("Trim() error = %v, want ErrNoAudio", err)
	}
}

func TestTrimStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raw := RawBuffer{Data: pcmLevels(44100, level{100, 1}), Format: pcmFormat(t, "pcm_44100")}
	if _, err := NewTrimmer(nil).Trim(ctx, raw, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Trim() error = %v, want context.Canceled", err)
	}
}

func TestMsToSamplesFloors(t *testing.T) {
	if got := MsToSamples(OutputFormat.SampleRate, 1); got != 44 {
		t.Fatalf("MsToSamples(1ms) = %d, want 44", got)
	}
	if got := MsToSamples(OutputFormat.SampleRate, -5); got != 0 {
		t.Fatalf("MsToSamples(-5ms) = %d, want 0", got)
	}
}
