package audio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedFormat is fatal for a request: nothing is returned.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrDecode reports bytes that do not decode in their declared format.
	ErrDecode = errors.New("decode audio")
	// ErrNoAudio is returned when there is nothing to trim.
	ErrNoAudio = errors.New("no audio data")
)

type Codec int

const (
	CodecUnknown Codec = iota
	CodecMP3
	CodecWAV
	CodecPCM
)

func (c Codec) String() string {
	switch c {
	case CodecMP3:
		return "mp3"
	case CodecWAV:
		return "wav"
	case CodecPCM:
		return "pcm"
	default:
		return "unknown"
	}
}

// Format is a parsed provider output-format tag such as "mp3_44100_128" or
// "pcm_16000".
type Format struct {
	Tag        string
	Codec      Codec
	SampleRate int
}

// ParseFormat maps a provider output-format tag to a decodable codec.
// Raw PCM tags must carry their sample rate since the stream has no header.
func ParseFormat(tag string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	family, rest, _ := strings.Cut(normalized, "_")

	f := Format{Tag: tag}
	switch family {
	case "mp3", "mp4":
		f.Codec = CodecMP3
	case "wav":
		f.Codec = CodecWAV
	case "pcm":
		f.Codec = CodecPCM
	default:
		return Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, tag)
	}

	if rest != "" {
		rateField, _, _ := strings.Cut(rest, "_")
		rate, err := strconv.Atoi(rateField)
		if err != nil || rate <= 0 {
			return Format{}, fmt.Errorf("%w: bad sample rate in %q", ErrUnsupportedFormat, tag)
		}
		f.SampleRate = rate
	}
	if f.Codec == CodecPCM && f.SampleRate == 0 {
		return Format{}, fmt.Errorf("%w: %q has no sample rate", ErrUnsupportedFormat, tag)
	}
	return f, nil
}
