package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/annotation"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudio   MessageType = "client_audio"
	TypeClientControl MessageType = "client_control"
	TypeSystemEvent   MessageType = "system_event"
	TypeTurnResult    MessageType = "turn_result"
	TypeErrorEvent    MessageType = "error_event"
)

const (
	ActionEnd  = "end"
	ActionPing = "ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudio carries one utterance for clients that cannot send binary
// frames. Binary frames hold the same PCM16LE payload without the envelope.
type ClientAudio struct {
	Type        MessageType `json:"type"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

// TurnResult follows the binary audio frame of a completed turn.
type TurnResult struct {
	Type               MessageType       `json:"type"`
	SessionID          string            `json:"session_id"`
	TurnID             string            `json:"turn_id"`
	Transcript         string            `json:"transcript"`
	Reply              string            `json:"reply"`
	DisplayText        string            `json:"display_text"`
	AudioFormat        string            `json:"audio_format"`
	AudioMs            int64             `json:"audio_ms"`
	RemovedMs          int64             `json:"removed_ms"`
	Spans              []annotation.Span `json:"spans"`
	UnpairedMarkers    bool              `json:"unpaired_markers,omitempty"`
	MalformedAlignment bool              `json:"malformed_alignment,omitempty"`
	EndReason          string            `json:"end_reason"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate < 0 {
			return nil, errors.New("invalid client_audio")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.Action != ActionEnd && msg.Action != ActionPing {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
