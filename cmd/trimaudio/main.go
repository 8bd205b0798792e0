package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/alignment"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
)

type options struct {
	audioPath     string
	format        string
	alignmentPath string
	marker        string
	outPath       string
}

type report struct {
	Text        string            `json:"text"`
	Spans       []annotation.Span `json:"spans"`
	Unpaired    bool              `json:"unpaired_markers,omitempty"`
	TimelineMs  int               `json:"timeline_ms"`
	AnnotatedMs int               `json:"annotated_ms"`
	SourceMs    int64             `json:"source_ms"`
	OutputMs    int64             `json:"output_ms"`
	RemovedMs   int               `json:"removed_ms"`
	Output      string            `json:"output"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "trimaudio: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "trimaudio: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("trimaudio", flag.ContinueOnError)
	fs.StringVar(&cfg.audioPath, "audio", "", "provider audio file (concatenated chunks)")
	fs.StringVar(&cfg.format, "format", "mp3_44100", "provider output format tag, e.g. mp3_44100_128 or pcm_16000")
	fs.StringVar(&cfg.alignmentPath, "alignment", "", "JSON array of alignment blocks in arrival order")
	fs.StringVar(&cfg.marker, "marker", annotation.DefaultMarker, "annotation marker")
	fs.StringVar(&cfg.outPath, "out", "trimmed.wav", "output WAV path")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if strings.TrimSpace(cfg.audioPath) == "" || strings.TrimSpace(cfg.alignmentPath) == "" {
		return options{}, errors.New("-audio and -alignment are required")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg options, stdout io.Writer) error {
	format, err := audio.ParseFormat(cfg.format)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(cfg.audioPath)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(cfg.alignmentPath)
	if err != nil {
		return err
	}
	var blocks []alignment.Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return fmt.Errorf("decode alignment: %w", err)
	}

	timeline, err := alignment.Merge(blocks)
	if err != nil {
		return err
	}
	detected := annotation.NewDetector(cfg.marker, nil).Detect(timeline)

	trimmed, err := audio.NewTrimmer(nil).Trim(ctx, audio.RawBuffer{Data: data, Format: format}, detected.Spans)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.outPath, trimmed.Data, 0o644); err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		Text:        timeline.Text(),
		Spans:       detected.Spans,
		Unpaired:    detected.Unpaired,
		TimelineMs:  timeline.EndMs(),
		AnnotatedMs: detected.TotalMs(),
		SourceMs:    trimmed.SourceDuration.Milliseconds(),
		OutputMs:    trimmed.Duration.Milliseconds(),
		RemovedMs:   trimmed.RemovedMs,
		Output:      cfg.outPath,
	})
}
