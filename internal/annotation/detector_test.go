package annotation

import (
	"bytes"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/alignment"
)

// timelineWithMarkers places a two-char marker at each start offset (in 10ms
// steps) of a single block filled with letters.
func timelineWithMarkers(t *testing.T, length int, markerStartsMs ...int) alignment.Timeline {
	t.Helper()
	chars := make([]string, length)
	starts := make([]int, length)
	durations := make([]int, length)
	for i := range chars {
		chars[i] = "a"
		starts[i] = i * 10
		durations[i] = 10
	}
	for _, ms := range markerStartsMs {
		idx := ms / 10
		chars[idx] = "-"
		chars[idx+1] = "-"
	}
	tl, err := alignment.Merge([]alignment.Block{{Chars: chars, StartTimesMs: starts, DurationsMs: durations}})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	return tl
}

func TestDetectPairsTwoMarkers(t *testing.T) {
	tl := timelineWithMarkers(t, 60, 100, 400)
	res := NewDetector("", nil).Detect(tl)

	if res.Unpaired {
		t.Fatalf("Unpaired = true, want false")
	}
	want := []Span{{StartMs: 100, EndMs: 400}}
	if !reflect.DeepEqual(res.Spans, want) {
		t.Fatalf("Spans = %+v, want %+v", res.Spans, want)
	}
	if res.TotalMs() != 300 {
		t.Fatalf("TotalMs() = %d, want 300", res.TotalMs())
	}
}

func TestDetectOddCountYieldsNoSpansAndWarns(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	tl := timelineWithMarkers(t, 100, 50, 200, 900)

	res := NewDetector(DefaultMarker, logger).Detect(tl)
	if !res.Unpaired {
		t.Fatalf("Unpaired = false, want true")
	}
	if len(res.Spans) != 0 {
		t.Fatalf("Spans = %+v, want none", res.Spans)
	}
	if got, want := res.Occurrences, []int{50, 200, 900}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Occurrences = %v, want %v", got, want)
	}
	out := logs.String()
	if !strings.Contains(out, "occurrences=3") {
		t.Fatalf("warning log missing count: %q", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("expected WARN log, got %q", out)
	}
}

func TestDetectEvenCountProducesHalfAsManySpans(t *testing.T) {
	tl := timelineWithMarkers(t, 120, 0, 100, 300, 500, 700, 1000)
	res := NewDetector("", nil).Detect(tl)
	if len(res.Spans) != 3 {
		t.Fatalf("len(Spans) = %d, want 3", len(res.Spans))
	}
	for i, s := range res.Spans {
		if s.StartMs > s.EndMs {
			t.Fatalf("span %d inverted: %+v", i, s)
		}
		if i > 0 && res.Spans[i-1].EndMs > s.StartMs {
			t.Fatalf("spans %d and %d overlap", i-1, i)
		}
	}
}

func TestDetectNoMarkers(t *testing.T) {
	tl := timelineWithMarkers(t, 20)
	res := NewDetector("", nil).Detect(tl)
	if res.Unpaired || len(res.Spans) != 0 || len(res.Occurrences) != 0 {
		t.Fatalf("Detect() = %+v, want empty result", res)
	}
}

func TestDetectEmptyTimeline(t *testing.T) {
	res := NewDetector("", nil).Detect(alignment.Timeline{})
	if res.Unpaired || len(res.Spans) != 0 {
		t.Fatalf("Detect() = %+v, want empty result", res)
	}
}

func TestDetectCountsOverlappingWindows(t *testing.T) {
	// "---" holds two overlapping "--" windows.
	tl, err := alignment.Merge([]alignment.Block{{
		Chars:        []string{"x", "-", "-", "-", "y"},
		StartTimesMs: []int{0, 10, 20, 30, 40},
		DurationsMs:  []int{10, 10, 10, 10, 10},
	}})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	res := NewDetector("", nil).Detect(tl)
	want := []Span{{StartMs: 10, EndMs: 20}}
	if !reflect.DeepEqual(res.Spans, want) {
		t.Fatalf("Spans = %+v, want %+v", res.Spans, want)
	}
}

func TestDetectFindsMarkerAcrossBlocks(t *testing.T) {
	blocks := []alignment.Block{
		{Chars: []string{"H", "i", "-", "-"}, StartTimesMs: []int{0, 50, 100, 150}, DurationsMs: []int{50, 50, 50, 50}},
		{Chars: []string{"s", "a", "d", "-", "-"}, StartTimesMs: []int{0, 40, 80, 120, 160}, DurationsMs: []int{40, 40, 40, 40, 40}},
	}
	tl, err := alignment.Merge(blocks)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	res := NewDetector("", nil).Detect(tl)
	want := []Span{{StartMs: 100, EndMs: 200 + 120}}
	if !reflect.DeepEqual(res.Spans, want) {
		t.Fatalf("Spans = %+v, want %+v", res.Spans, want)
	}
}

func TestDetectCustomMarker(t *testing.T) {
	tl, err := alignment.Merge([]alignment.Block{{
		Chars:        []string{"*", "o", "k", "*"},
		StartTimesMs: []int{0, 25, 50, 75},
		DurationsMs:  []int{25, 25, 25, 25},
	}})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	d := NewDetector("*", nil)
	if d.Marker() != "*" {
		t.Fatalf("Marker() = %q, want *", d.Marker())
	}
	res := d.Detect(tl)
	want := []Span{{StartMs: 0, EndMs: 75}}
	if !reflect.DeepEqual(res.Spans, want) {
		t.Fatalf("Spans = %+v, want %+v", res.Spans, want)
	}
}

func TestPairRejectsOddCount(t *testing.T) {
	if _, err := Pair([]int{1, 2, 3}); !errors.Is(err, ErrUnpairedMarkers) {
		t.Fatalf("Pair() error = %v, want ErrUnpairedMarkers", err)
	}
	spans, err := Pair(nil)
	if err != nil || spans != nil {
		t.Fatalf("Pair(nil) = (%v, %v), want (nil, nil)", spans, err)
	}
}
