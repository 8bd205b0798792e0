package alignment

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedBlock reports a block whose parallel sequences disagree.
var ErrMalformedBlock = errors.New("malformed alignment block")

// Block is the per-character timing metadata carried by one provider message.
// Start times are relative to the start of the block.
type Block struct {
	Chars        []string `json:"chars"`
	StartTimesMs []int    `json:"charStartTimesMs"`
	DurationsMs  []int    `json:"charDurationsMs"`
}

// Validate checks that the three sequences have equal length and that start
// times never go backwards.
func (b Block) Validate() error {
	if len(b.Chars) != len(b.StartTimesMs) || len(b.Chars) != len(b.DurationsMs) {
		return fmt.Errorf("%w: chars=%d starts=%d durations=%d",
			ErrMalformedBlock, len(b.Chars), len(b.StartTimesMs), len(b.DurationsMs))
	}
	for i := 1; i < len(b.StartTimesMs); i++ {
		if b.StartTimesMs[i] < b.StartTimesMs[i-1] {
			return fmt.Errorf("%w: start time decreases at index %d (%d < %d)",
				ErrMalformedBlock, i, b.StartTimesMs[i], b.StartTimesMs[i-1])
		}
	}
	return nil
}

// TotalDurationMs is the sum of the block's character durations.
func (b Block) TotalDurationMs() int {
	total := 0
	for _, d := range b.DurationsMs {
		total += d
	}
	return total
}

// Timeline is the merged, absolute-time view of every block of one utterance.
// It is immutable once built.
type Timeline struct {
	chars     []string
	starts    []int
	durations []int
}

// Merge combines blocks, in arrival order, into a single timeline.
//
// Every block is preceded by a synthetic space that restores the word boundary
// the provider drops between chunks. The space borrows the block's first
// duration (zero for an empty block) and starts at the running offset. The
// block's own start times are shifted by that offset, which then advances by
// the block's total duration.
func Merge(blocks []Block) (Timeline, error) {
	size := 0
	for i, b := range blocks {
		if err := b.Validate(); err != nil {
			return Timeline{}, fmt.Errorf("block %d: %w", i, err)
		}
		size += len(b.Chars) + 1
	}

	tl := Timeline{
		chars:     make([]string, 0, size),
		starts:    make([]int, 0, size),
		durations: make([]int, 0, size),
	}
	offset := 0
	for _, b := range blocks {
		spacer := 0
		if len(b.DurationsMs) > 0 {
			spacer = b.DurationsMs[0]
		}
		// The spacer sits at the running offset so starts never decrease.
		tl.chars = append(tl.chars, " ")
		tl.starts = append(tl.starts, offset)
		tl.durations = append(tl.durations, spacer)

		tl.chars = append(tl.chars, b.Chars...)
		for _, start := range b.StartTimesMs {
			tl.starts = append(tl.starts, start+offset)
		}
		tl.durations = append(tl.durations, b.DurationsMs...)

		offset += b.TotalDurationMs()
	}
	return tl, nil
}

func (t Timeline) Len() int { return len(t.chars) }

func (t Timeline) Char(i int) string { return t.chars[i] }

func (t Timeline) StartMs(i int) int { return t.starts[i] }

func (t Timeline) DurationMs(i int) int { return t.durations[i] }

// Chars returns a copy of the character sequence.
func (t Timeline) Chars() []string { return append([]string(nil), t.chars...) }

// StartTimesMs returns a copy of the absolute start times.
func (t Timeline) StartTimesMs() []int { return append([]int(nil), t.starts...) }

// DurationsMs returns a copy of the durations.
func (t Timeline) DurationsMs() []int { return append([]int(nil), t.durations...) }

// Text joins all characters, including the synthetic spaces.
func (t Timeline) Text() string { return strings.Join(t.chars, "") }

// EndMs is the end of the last character, or zero for an empty timeline.
func (t Timeline) EndMs() int {
	if len(t.chars) == 0 {
		return 0
	}
	last := len(t.chars) - 1
	return t.starts[last] + t.durations[last]
}
