package annotation

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/alignment"
)

// DefaultMarker delimits stage directions such as `--he said sadly:--`.
const DefaultMarker = "--"

// ErrUnpairedMarkers is returned by Pair when the occurrence count is odd.
var ErrUnpairedMarkers = errors.New("uneven number of annotation markers")

// Span is a half-open millisecond interval [StartMs, EndMs) to be cut from audio.
type Span struct {
	StartMs int `json:"start_ms"`
	EndMs   int `json:"end_ms"`
}

func (s Span) DurationMs() int { return s.EndMs - s.StartMs }

// Result carries the spans plus the raw occurrences they were paired from.
type Result struct {
	Spans       []Span
	Occurrences []int
	// Unpaired is set when pairing was impossible; Spans is then empty.
	Unpaired bool
}

// TotalMs sums the duration of every span.
func (r Result) TotalMs() int {
	total := 0
	for _, s := range r.Spans {
		total += s.DurationMs()
	}
	return total
}

type Detector struct {
	marker []string
	logger *slog.Logger
}

// NewDetector builds a detector for marker, falling back to DefaultMarker when
// marker is empty. A nil logger discards output.
func NewDetector(marker string, logger *slog.Logger) *Detector {
	if marker == "" {
		marker = DefaultMarker
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runes := make([]string, 0, utf8.RuneCountInString(marker))
	for _, r := range marker {
		runes = append(runes, string(r))
	}
	return &Detector{
		marker: runes,
		logger: logger.With(slog.String("component", "annotation-detector")),
	}
}

func (d *Detector) Marker() string { return strings.Join(d.marker, "") }

// Occurrences returns the absolute start time of every window that spells the
// marker. Overlapping windows each count.
func (d *Detector) Occurrences(tl alignment.Timeline) []int {
	n := len(d.marker)
	var out []int
	for i := 0; i+n <= tl.Len(); i++ {
		if d.matchesAt(tl, i) {
			out = append(out, tl.StartMs(i))
		}
	}
	return out
}

func (d *Detector) matchesAt(tl alignment.Timeline, i int) bool {
	for j, want := range d.marker {
		if tl.Char(i+j) != want {
			return false
		}
	}
	return true
}

// Detect finds marker pairs in tl. An odd number of markers is logged and
// yields no spans so that nothing is trimmed on ambiguous input.
func (d *Detector) Detect(tl alignment.Timeline) Result {
	occ := d.Occurrences(tl)
	spans, err := Pair(occ)
	if err != nil {
		d.logger.Warn("annotation markers cannot be paired",
			slog.Int("occurrences", len(occ)),
			slog.Any("offsets_ms", occ),
			slog.String("marker", d.Marker()),
		)
		return Result{Occurrences: occ, Unpaired: true}
	}
	if len(spans) > 0 {
		d.logger.Debug("annotation spans detected",
			slog.Int("spans", len(spans)),
			slog.Any("offsets_ms", occ),
		)
	}
	return Result{Spans: spans, Occurrences: occ}
}

// Pair turns consecutive occurrences into spans: (0,1), (2,3), ...
func Pair(occurrences []int) ([]Span, error) {
	if len(occurrences)%2 != 0 {
		return nil, ErrUnpairedMarkers
	}
	if len(occurrences) == 0 {
		return nil, nil
	}
	spans := make([]Span, 0, len(occurrences)/2)
	for i := 0; i < len(occurrences); i += 2 {
		spans = append(spans, Span{StartMs: occurrences[i], EndMs: occurrences[i+1]})
	}
	return spans, nil
}
