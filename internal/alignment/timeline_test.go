package alignment

import (
	"errors"
	"reflect"
	"testing"
)

func TestMergeEmpty(t *testing.T) {
	tl, err := Merge(nil)
	if err != nil {
		t.Fatalf("Merge(nil) error = %v", err)
	}
	if tl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tl.Len())
	}
	if tl.EndMs() != 0 {
		t.Fatalf("EndMs() = %d, want 0", tl.EndMs())
	}
}

func TestMergeSingleBlock(t *testing.T) {
	b := Block{
		Chars:        []string{"H", "i", "!"},
		StartTimesMs: []int{0, 40, 90},
		DurationsMs:  []int{40, 50, 30},
	}
	tl, err := Merge([]Block{b})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if got, want := tl.Chars(), []string{" ", "H", "i", "!"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Chars() = %q, want %q", got, want)
	}
	if got, want := tl.StartTimesMs(), []int{0, 0, 40, 90}; !reflect.DeepEqual(got, want) {
		t.Fatalf("StartTimesMs() = %v, want %v", got, want)
	}
	if got, want := tl.DurationsMs(), []int{40, 40, 50, 30}; !reflect.DeepEqual(got, want) {
		t.Fatalf("DurationsMs() = %v, want %v", got, want)
	}
	if tl.Text() != " Hi!" {
		t.Fatalf("Text() = %q, want %q", tl.Text(), " Hi!")
	}
}

func TestMergeShiftsLaterBlocksByPriorDurations(t *testing.T) {
	first := Block{
		Chars:        []string{"a", "b"},
		StartTimesMs: []int{0, 100},
		DurationsMs:  []int{100, 150},
	}
	second := Block{
		Chars:        []string{"c", "d", "e"},
		StartTimesMs: []int{0, 20, 70},
		DurationsMs:  []int{20, 50, 60},
	}
	tl, err := Merge([]Block{first, second})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if tl.Len() != 7 {
		t.Fatalf("Len() = %d, want 7", tl.Len())
	}

	offset := first.TotalDurationMs()
	// Layout: " ", a, b, " ", c, d, e
	for i, orig := range second.StartTimesMs {
		if got := tl.StartMs(4 + i); got != orig+offset {
			t.Fatalf("StartMs(%d) = %d, want %d", 4+i, got, orig+offset)
		}
	}
	if tl.Char(3) != " " || tl.StartMs(3) != offset || tl.DurationMs(3) != 20 {
		t.Fatalf("spacer = (%q, %d, %d), want (\" \", %d, 20)", tl.Char(3), tl.StartMs(3), tl.DurationMs(3), offset)
	}
	if tl.EndMs() != offset+70+60 {
		t.Fatalf("EndMs() = %d, want %d", tl.EndMs(), offset+130)
	}
}

func TestMergeSpacerStartsAtRunningOffset(t *testing.T) {
	blocks := []Block{
		{Chars: []string{"a", "b"}, StartTimesMs: []int{0, 100}, DurationsMs: []int{100, 150}},
		{Chars: []string{"c"}, StartTimesMs: []int{0}, DurationsMs: []int{80}},
		{Chars: []string{"d", "e"}, StartTimesMs: []int{0, 40}, DurationsMs: []int{40, 40}},
	}
	tl, err := Merge(blocks)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	// Layout: " ", a, b, " ", c, " ", d, e
	var spacers []int
	for i := 0; i < tl.Len(); i++ {
		if tl.Char(i) == " " {
			spacers = append(spacers, tl.StartMs(i))
		}
	}
	if want := []int{0, 250, 330}; !reflect.DeepEqual(spacers, want) {
		t.Fatalf("spacer starts = %v, want %v", spacers, want)
	}
	starts := tl.StartTimesMs()
	for i := 1; i < len(starts); i++ {
		if starts[i] < starts[i-1] {
			t.Fatalf("StartTimesMs() = %v, decreases at %d", starts, i)
		}
	}
}

func TestMergeEmptyBlockContributesZeroDurationSpacer(t *testing.T) {
	blocks := []Block{
		{Chars: []string{"x"}, StartTimesMs: []int{0}, DurationsMs: []int{80}},
		{},
		{Chars: []string{"y"}, StartTimesMs: []int{0}, DurationsMs: []int{30}},
	}
	tl, err := Merge(blocks)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if got, want := tl.Chars(), []string{" ", "x", " ", " ", "y"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Chars() = %q, want %q", got, want)
	}
	if got, want := tl.DurationsMs(), []int{80, 80, 0, 30, 30}; !reflect.DeepEqual(got, want) {
		t.Fatalf("DurationsMs() = %v, want %v", got, want)
	}
	if got, want := tl.StartTimesMs(), []int{0, 0, 80, 80, 80}; !reflect.DeepEqual(got, want) {
		t.Fatalf("StartTimesMs() = %v, want %v", got, want)
	}
}

func TestMergeIsOrderSensitive(t *testing.T) {
	a := Block{Chars: []string{"a"}, StartTimesMs: []int{0}, DurationsMs: []int{10}}
	b := Block{Chars: []string{"b"}, StartTimesMs: []int{0}, DurationsMs: []int{99}}

	ab, _ := Merge([]Block{a, b})
	ba, _ := Merge([]Block{b, a})
	if ab.Text() == ba.Text() {
		t.Fatalf("Merge should preserve arrival order, both gave %q", ab.Text())
	}
	if ab.StartMs(3) != 10 || ba.StartMs(3) != 99 {
		t.Fatalf("second block offsets = (%d, %d), want (10, 99)", ab.StartMs(3), ba.StartMs(3))
	}
}

func TestMergeRejectsMismatchedLengths(t *testing.T) {
	bad := Block{Chars: []string{"a", "b"}, StartTimesMs: []int{0}, DurationsMs: []int{10, 10}}
	_, err := Merge([]Block{bad})
	if !errors.Is(err, ErrMalformedBlock) {
		t.Fatalf("Merge() error = %v, want ErrMalformedBlock", err)
	}
}

func TestValidateRejectsDecreasingStarts(t *testing.T) {
	b := Block{Chars: []string{"a", "b"}, StartTimesMs: []int{50, 10}, DurationsMs: []int{10, 10}}
	if err := b.Validate(); !errors.Is(err, ErrMalformedBlock) {
		t.Fatalf("Validate() error = %v, want ErrMalformedBlock", err)
	}
}

func TestTimelineAccessorsReturnCopies(t *testing.T) {
	tl, _ := Merge([]Block{{Chars: []string{"a"}, StartTimesMs: []int{0}, DurationsMs: []int{5}}})
	chars := tl.Chars()
	chars[1] = "z"
	if tl.Char(1) != "a" {
		t.Fatalf("timeline mutated through Chars() copy")
	}
}
