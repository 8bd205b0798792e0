package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/alignment"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
)

func newTestCollector(format string) *Collector {
	return NewCollector(CollectorConfig{
		APIKey:       "test-key",
		OutputFormat: format,
		Settings:     VoiceSettings{Stability: 0.5, SimilarityBoost: 0.8},
	}, nil, nil)
}

func silentPCM(ms int) []byte {
	return make([]byte, 44100*ms/1000*2)
}

func chunkMessage(t *testing.T, pcm []byte, block *alignment.Block) []byte {
	t.Helper()
	m := map[string]any{"audio": base64.StdEncoding.EncodeToString(pcm)}
	if block != nil {
		m["alignment"] = block
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}

func wordBlock(word string, msPerChar int) *alignment.Block {
	b := &alignment.Block{}
	for _, r := range word {
		b.Chars = append(b.Chars, string(r))
		b.StartTimesMs = append(b.StartTimesMs, len(b.DurationsMs)*msPerChar)
		b.DurationsMs = append(b.DurationsMs, msPerChar)
	}
	return b
}

func TestCollectSendsHandshakeInOrder(t *testing.T) {
	ch := NewScriptedChannel([]byte(`{"isFinal":true}`))
	if _, err := newTestCollector("pcm_44100").Collect(context.Background(), ch, "Hello there"); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	sent := ch.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	var first map[string]any
	if err := json.Unmarshal(sent[0], &first); err != nil {
		t.Fatalf("Unmarshal(first) error = %v", err)
	}
	if first["text"] != " " || first["xi_api_key"] != "test-key" || first["output_format"] != "pcm_44100" {
		t.Fatalf("first message = %v", first)
	}
	settings, _ := first["voice_settings"].(map[string]any)
	if settings["stability"] != 0.5 || settings["similarity_boost"] != 0.8 {
		t.Fatalf("voice_settings = %v", settings)
	}
	if string(sent[1]) != `{"text":"Hello there"}` {
		t.Fatalf("second message = %s", sent[1])
	}
	if string(sent[2]) != `{"text":""}` {
		t.Fatalf("third message = %s", sent[2])
	}
}

func TestCollectTrimsAnnotatedRegion(t *testing.T) {
	ch := NewScriptedChannel(ScriptedSynthesis("Hello --softly-- there", 50, 44100)...)
	res, err := newTestCollector("pcm_44100").Collect(context.Background(), ch, "Hello --softly-- there")
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	want := []annotation.Span{{StartMs: 250, EndMs: 600}}
	if !reflect.DeepEqual(res.Spans, want) {
		t.Fatalf("Spans = %+v, want %+v", res.Spans, want)
	}
	if res.Audio.SourceDuration != time.Second {
		t.Fatalf("SourceDuration = %v, want 1s", res.Audio.SourceDuration)
	}
	if res.Audio.Duration != 650*time.Millisecond {
		t.Fatalf("Duration = %v, want 650ms", res.Audio.Duration)
	}
	if res.Chunks != 3 || res.Blocks != 3 {
		t.Fatalf("chunks/blocks = %d/%d, want 3/3", res.Chunks, res.Blocks)
	}
	if res.EndReason != EndComplete {
		t.Fatalf("EndReason = %q, want %q", res.EndReason, EndComplete)
	}
}

func TestCollectOddMarkersLeavesAudioUntrimmed(t *testing.T) {
	ch := NewScriptedChannel(ScriptedSynthesis("Well -- ok", 50, 44100)...)
	res, err := newTestCollector("pcm_44100").Collect(context.Background(), ch, "Well -- ok")
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if !res.Unpaired {
		t.Fatalf("Unpaired = false, want true")
	}
	if len(res.Spans) != 0 {
		t.Fatalf("Spans = %+v, want none", res.Spans)
	}
	if res.Audio.Duration != 400*time.Millisecond {
		t.Fatalf("Duration = %v, want 400ms", res.Audio.Duration)
	}
}

func TestCollectEmptyStreamIsNotAnError(t *testing.T) {
	cases := []struct {
		name   string
		ch     *ScriptedChannel
		reason string
	}{
		{"final message only", NewScriptedChannel([]byte(`{"audio":null,"isFinal":true}`)), EndComplete},
		{"closed immediately", NewScriptedChannel(), EndClosed},
		{"failed immediately", NewScriptedChannel().FailWith(errors.New("connection reset")), EndChannelFailure},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			res, err := newTestCollector("mp3_44100_128").Collect(context.Background(), tc.ch, "hi")
			if err != nil {
				t.Fatalf("Collect() error = %v", err)
			}
			if !res.Empty() {
				t.Fatalf("Collect() returned %d bytes, want empty", len(res.Audio.Data))
			}
			if res.EndReason != tc.reason {
				t.Fatalf("EndReason = %q, want %q", res.EndReason, tc.reason)
			}
		})
	}
}

func TestCollectKeepsPartialAudioOnChannelFailure(t *testing.T) {
	ch := NewScriptedChannel(
		chunkMessage(t, silentPCM(200), wordBlock("Hey", 50)),
		chunkMessage(t, silentPCM(100), wordBlock("you", 30)),
	).FailWith(errors.New("connection reset by peer"))

	res, err := newTestCollector("pcm_44100").Collect(context.Background(), ch, "Hey you there")
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if res.EndReason != EndChannelFailure {
		t.Fatalf("EndReason = %q, want %q", res.EndReason, EndChannelFailure)
	}
	if res.Audio.Duration != 300*time.Millisecond {
		t.Fatalf("Duration = %v, want 300ms", res.Audio.Duration)
	}
}

func TestCollectAudioWithoutAlignmentEndsStream(t *testing.T) {
	ch := NewScriptedChannel(
		chunkMessage(t, silentPCM(100), wordBlock("one", 30)),
		chunkMessage(t, silentPCM(100), nil),
		chunkMessage(t, silentPCM(100), wordBlock("three", 20)),
	)
	res, err := newTestCollector("pcm_44100").Collect(context.Background(), ch, "one two three")
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if res.EndReason != EndAudioOnly {
		t.Fatalf("EndReason = %q, want %q", res.EndReason, EndAudioOnly)
	}
	if res.Chunks != 2 || res.Blocks != 1 {
		t.Fatalf("chunks/blocks = %d/%d, want 2/1", res.Chunks, res.Blocks)
	}
	if res.Audio.Duration != 200*time.Millisecond {
		t.Fatalf("Duration = %v, want 200ms", res.Audio.Duration)
	}
}

func TestCollectProviderErrorWithoutAudio(t *testing.T) {
	ch := NewScriptedChannel([]byte(`{"error":"quota_exceeded","message":"out of credits"}`))
	_, err := newTestCollector("pcm_44100").Collect(context.Background(), ch, "hi")

	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Collect() error = %v, want *ProviderError", err)
	}
	if perr.Code != "quota_exceeded" || perr.Detail != "out of credits" || perr.Retryable {
		t.Fatalf("ProviderError = %+v", perr)
	}
}

func TestCollectProviderErrorAfterAudioFinalizes(t *testing.T) {
	ch := NewScriptedChannel(
		chunkMessage(t, silentPCM(100), wordBlock("ok", 50)),
		[]byte(`{"error":"rate_limited"}`),
	)
	res, err := newTestCollector("pcm_44100").Collect(context.Background(), ch, "ok")
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if res.EndReason != EndProviderError || res.Audio.Duration != 100*time.Millisecond {
		t.Fatalf("result = %s/%v, want provider_error/100ms", res.EndReason, res.Audio.Duration)
	}
}

func TestCollectUnsupportedFormatFailsBeforeHandshake(t *testing.T) {
	ch := NewScriptedChannel(ScriptedSynthesis("hi", 50, 44100)...)
	res, err := newTestCollector("ulaw_8000").Collect(context.Background(), ch, "hi")
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("Collect() error = %v, want ErrUnsupportedFormat", err)
	}
	if !res.Empty() {
		t.Fatalf("Collect() returned audio alongside an error")
	}
	if len(ch.Sent()) != 0 {
		t.Fatalf("handshake sent for unsupported format")
	}
}

func TestCollectMalformedAlignmentSkipsTrimming(t *testing.T) {
	bad := &alignment.Block{Chars: []string{"-", "-"}, StartTimesMs: []int{0}, DurationsMs: []int{50, 50}}
	ch := NewScriptedChannel(
		chunkMessage(t, silentPCM(100), bad),
		chunkMessage(t, silentPCM(100), wordBlock("--", 50)),
	)
	res, err := newTestCollector("pcm_44100").Collect(context.Background(), ch, "-- --")
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if !res.MalformedAlignment {
		t.Fatalf("MalformedAlignment = false, want true")
	}
	if res.Audio.Duration != 200*time.Millisecond {
		t.Fatalf("Duration = %v, want 200ms", res.Audio.Duration)
	}
}

func TestCollectSkipsUndecodableMessages(t *testing.T) {
	msgs := append([][]byte{[]byte("not json")}, ScriptedSynthesis("fine", 50, 44100)...)
	res, err := newTestCollector("pcm_44100").Collect(context.Background(), NewScriptedChannel(msgs...), "fine")
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if res.Audio.Duration != 200*time.Millisecond {
		t.Fatalf("Duration = %v, want 200ms", res.Audio.Duration)
	}
}

func TestCollectCancellationDiscardsPartialAudio(t *testing.T) {
	ch := NewScriptedChannel(chunkMessage(t, silentPCM(100), wordBlock("hi", 50))).HoldOpen()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := newTestCollector("pcm_44100").Collect(ctx, ch, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Collect() error = %v, want context.Canceled", err)
	}
	if !res.Empty() {
		t.Fatalf("Collect() returned partial audio after cancellation")
	}
}

func TestProviderMessageKind(t *testing.T) {
	cases := []struct {
		raw  string
		want messageKind
	}{
		{`{"audio":"AAA=","alignment":{"chars":[],"charStartTimesMs":[],"charDurationsMs":[]}}`, kindAudioAligned},
		{`{"audio":"AAA="}`, kindAudioOnly},
		{`{"audio":"","alignment":null}`, kindEnd},
		{`{"alignment":{"chars":["a"],"charStartTimesMs":[0],"charDurationsMs":[1]}}`, kindEnd},
		{`{"isFinal":true}`, kindEnd},
		{`{"error":"invalid_request","audio":"AAA="}`, kindError},
	}
	for _, tc := range cases {
		var msg providerMessage
		if err := json.Unmarshal([]byte(tc.raw), &msg); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tc.raw, err)
		}
		if got := msg.kind(); got != tc.want {
			t.Fatalf("kind(%s) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
