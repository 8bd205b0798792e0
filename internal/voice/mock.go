package voice

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/alignment"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/observability"
)

// ScriptedChannel is an in-memory Channel that replays canned provider
// messages and records everything written to it.
type ScriptedChannel struct {
	mu       sync.Mutex
	messages [][]byte
	next     int
	sent     [][]byte
	closed   bool
	tailErr  error
	holdOpen bool
}

func NewScriptedChannel(messages ...[]byte) *ScriptedChannel {
	return &ScriptedChannel{messages: messages, tailErr: ErrChannelClosed}
}

// FailWith makes reads past the script return err instead of ErrChannelClosed.
func (c *ScriptedChannel) FailWith(err error) *ScriptedChannel {
	c.tailErr = err
	return c
}

// HoldOpen makes reads past the script block until the context is done.
func (c *ScriptedChannel) HoldOpen() *ScriptedChannel {
	c.holdOpen = true
	return c
}

func (c *ScriptedChannel) WriteJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *ScriptedChannel) ReadMessage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if c.next < len(c.messages) {
		msg := c.messages[c.next]
		c.next++
		c.mu.Unlock()
		return msg, nil
	}
	hold, tail := c.holdOpen, c.tailErr
	c.mu.Unlock()

	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, tail
}

func (c *ScriptedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Sent returns the messages written so far.
func (c *ScriptedChannel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

const (
	mockSampleRate = 44100
	mockMsPerChar  = 60
	mockToneHz     = 220
	mockAmplitude  = 1800
)

// ScriptedSynthesis renders text the way the provider streams it: one message
// per word with a quiet PCM16 tone and per-character alignment, then a final
// message with no audio.
func ScriptedSynthesis(text string, msPerChar, sampleRate int) [][]byte {
	if msPerChar <= 0 {
		msPerChar = mockMsPerChar
	}
	if sampleRate <= 0 {
		sampleRate = mockSampleRate
	}
	var out [][]byte
	phase := 0
	for _, word := range strings.Fields(text) {
		var block alignment.Block
		for i, r := range []rune(word) {
			block.Chars = append(block.Chars, string(r))
			block.StartTimesMs = append(block.StartTimesMs, i*msPerChar)
			block.DurationsMs = append(block.DurationsMs, msPerChar)
		}
		samples := sampleRate * block.TotalDurationMs() / 1000
		pcm := make([]byte, 0, samples*2)
		for i := 0; i < samples; i++ {
			v := mockAmplitude * math.Sin(2*math.Pi*mockToneHz*float64(phase)/float64(sampleRate))
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(v)))
			phase++
		}
		encoded := base64.StdEncoding.EncodeToString(pcm)
		msg, _ := json.Marshal(providerMessage{Audio: &encoded, Alignment: &block})
		out = append(out, msg)
	}
	final := true
	msg, _ := json.Marshal(providerMessage{IsFinal: &final})
	return append(out, msg)
}

// MockSynthesizer synthesizes offline. Its output goes through the same
// Collector as real provider streams, so annotations are trimmed too.
type MockSynthesizer struct {
	collector *Collector
	msPerChar int
}

func NewMockSynthesizer(marker string, metrics *observability.Metrics, logger *slog.Logger) *MockSynthesizer {
	return &MockSynthesizer{
		collector: NewCollector(CollectorConfig{
			OutputFormat: "pcm_44100",
			Marker:       marker,
			Provider:     "mock",
		}, metrics, logger),
		msPerChar: mockMsPerChar,
	}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (SynthesisResult, error) {
	ch := NewScriptedChannel(ScriptedSynthesis(text, m.msPerChar, mockSampleRate)...)
	defer ch.Close()
	return m.collector.Collect(ctx, ch, text)
}
