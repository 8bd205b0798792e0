package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// FailoverSynthesizer prefers primary and switches to fallback when primary
// fails. Once fallback succeeds it stays active until it fails; then primary
// is retried.
type FailoverSynthesizer struct {
	primary        Synthesizer
	fallback       Synthesizer
	fallbackActive atomic.Bool
	logger         *slog.Logger
}

func NewFailoverSynthesizer(primary, fallback Synthesizer, logger *slog.Logger) *FailoverSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverSynthesizer{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "synthesis-failover")),
	}
}

func (f *FailoverSynthesizer) FallbackActive() bool { return f.fallbackActive.Load() }

func (f *FailoverSynthesizer) Synthesize(ctx context.Context, text string) (SynthesisResult, error) {
	first, second := f.primary, f.fallback
	if f.fallbackActive.Load() {
		first, second = f.fallback, f.primary
	}

	res, firstErr := first.Synthesize(ctx, text)
	if firstErr == nil {
		return res, nil
	}
	if !shouldFailOver(ctx, firstErr) {
		return SynthesisResult{}, firstErr
	}

	res, secondErr := second.Synthesize(ctx, text)
	if secondErr != nil {
		return SynthesisResult{}, fmt.Errorf("synthesis failed: %v; then: %w", firstErr, secondErr)
	}
	switchedToFallback := !f.fallbackActive.Load()
	f.fallbackActive.Store(switchedToFallback)
	f.logger.Warn("synthesis provider switched",
		slog.Bool("fallback_active", switchedToFallback),
		slog.String("error", firstErr.Error()),
	)
	return res, nil
}

// A cancelled request fails the same way on any provider.
func shouldFailOver(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
