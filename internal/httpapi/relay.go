package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/protocol"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/session"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/voice"
)

const (
	relayWriteTimeout = 10 * time.Second
	relayIdleTimeout  = 5 * time.Minute
)

// utterance is one inbound unit of work for the relay loop.
type utterance struct {
	pcm        []byte
	sampleRate int
	control    string
}

// handleRelayWS answers each inbound utterance with a binary WAV frame and a
// turn_result text frame. Binary frames are raw PCM16LE mono 44.1 kHz.
// Turns run one at a time; a disconnect cancels the turn in flight.
func (s *Server) handleRelayWS(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	sess, owned, ok := s.relaySession(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if owned {
			_, _ = s.sessions.End(sess.ID)
		}
		return
	}
	defer conn.Close()

	logger := s.logger.With(slog.String("session_id", sess.ID))
	s.metrics.ObserveSessionEvent("ws_connected")
	s.syncActiveSessions()
	defer func() {
		if owned {
			_, _ = s.sessions.End(sess.ID)
		}
		s.syncActiveSessions()
		s.metrics.ObserveSessionEvent("ws_disconnected")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan utterance)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		s.readRelay(ctx, conn, inbound, logger)
	}()
	// Closing the conn unblocks a reader parked in ReadMessage.
	stop := func() {
		cancel()
		_ = conn.Close()
		<-readDone
	}

	s.writeRelay(conn, websocket.TextMessage, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sess.ID,
		Code:      "session_started",
	})

	for {
		var u utterance
		select {
		case <-ctx.Done():
			stop()
			return
		case u = <-inbound:
		}

		switch u.control {
		case protocol.ActionEnd:
			_, _ = s.sessions.End(sess.ID)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
				time.Now().Add(time.Second))
			stop()
			return
		case protocol.ActionPing:
			s.writeRelay(conn, websocket.TextMessage, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: sess.ID,
				Code:      "pong",
			})
			continue
		}

		out, err := s.orchestrator.RunTurn(ctx, sess, u.pcm, u.sampleRate)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("turn abandoned, client disconnected", slog.String("turn_id", out.TurnID))
				stop()
				return
			}
			logger.Warn("turn failed", slog.String("turn_id", out.TurnID), slog.String("error", err.Error()))
			s.writeRelay(conn, websocket.TextMessage, turnErrorEvent(sess.ID, out.TurnID, err))
			continue
		}

		res := out.Synthesis
		if !res.Empty() {
			if !s.writeRelay(conn, websocket.BinaryMessage, res.Audio.Data) {
				stop()
				return
			}
		}
		s.writeRelay(conn, websocket.TextMessage, protocol.TurnResult{
			Type:               protocol.TypeTurnResult,
			SessionID:          sess.ID,
			TurnID:             out.TurnID,
			Transcript:         out.Transcript,
			Reply:              out.Reply,
			DisplayText:        out.DisplayText,
			AudioFormat:        audio.OutputMIMEType,
			AudioMs:            res.Audio.Duration.Milliseconds(),
			RemovedMs:          int64(res.Audio.RemovedMs),
			Spans:              res.Spans,
			UnpairedMarkers:    res.Unpaired,
			MalformedAlignment: res.MalformedAlignment,
			EndReason:          res.EndReason,
		})
	}
}

// relaySession resumes the session named by ?session_id or opens a new one
// owned by this connection.
func (s *Server) relaySession(w http.ResponseWriter, r *http.Request) (*session.Session, bool, bool) {
	if id := strings.TrimSpace(r.URL.Query().Get("session_id")); id != "" {
		sess, err := s.sessions.Get(id)
		if err != nil {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return nil, false, false
		}
		if sess.Status != session.StatusActive {
			respondError(w, http.StatusConflict, "session_ended", "session is no longer active")
			return nil, false, false
		}
		return sess, false, true
	}
	sess := s.sessions.Create(strings.TrimSpace(r.URL.Query().Get("user_id")))
	s.metrics.ObserveSessionEvent("created")
	return sess, true, true
}

func (s *Server) readRelay(ctx context.Context, conn *websocket.Conn, inbound chan<- utterance, logger *slog.Logger) {
	// Base64 text frames are a third larger than the PCM they carry.
	conn.SetReadLimit(int64(s.maxUtteranceBytes())*4/3 + 4096)
	_ = conn.SetReadDeadline(time.Now().Add(relayIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(relayIdleTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				logger.Debug("relay read ended", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(relayIdleTimeout))

		var u utterance
		switch msgType {
		case websocket.BinaryMessage:
			s.metrics.ObserveWSMessage("inbound", "audio_binary")
			u = utterance{pcm: data, sampleRate: audio.OutputSampleRate}
		case websocket.TextMessage:
			parsed, err := protocol.ParseClientMessage(data)
			if err != nil {
				s.metrics.ObserveWSMessage("inbound", "invalid")
				logger.Debug("invalid client message", slog.String("error", err.Error()))
				continue
			}
			switch m := parsed.(type) {
			case protocol.ClientAudio:
				pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if err != nil {
					s.metrics.ObserveWSMessage("inbound", "invalid")
					continue
				}
				s.metrics.ObserveWSMessage("inbound", string(m.Type))
				u = utterance{pcm: pcm, sampleRate: m.SampleRate}
			case protocol.ClientControl:
				s.metrics.ObserveWSMessage("inbound", string(m.Type))
				u = utterance{control: m.Action}
			}
		default:
			continue
		}

		select {
		case <-ctx.Done():
			return
		case inbound <- u:
		}
	}
}

func (s *Server) maxUtteranceBytes() int {
	if s.cfg.MaxUtteranceBytes > 0 {
		return s.cfg.MaxUtteranceBytes
	}
	return 44100 * 2 * 60
}

// writeRelay is only called from the relay loop goroutine.
func (s *Server) writeRelay(conn *websocket.Conn, msgType int, payload any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
	var (
		err  error
		kind string
	)
	switch p := payload.(type) {
	case []byte:
		err = conn.WriteMessage(msgType, p)
		kind = "audio_wav"
	default:
		err = conn.WriteJSON(p)
		kind = outboundType(p)
	}
	if err != nil {
		s.metrics.ObserveWSMessage("outbound", "write_failed")
		return false
	}
	s.metrics.ObserveWSMessage("outbound", kind)
	return true
}

func outboundType(v any) string {
	switch m := v.(type) {
	case protocol.SystemEvent:
		return string(m.Type)
	case protocol.TurnResult:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	default:
		return "unknown"
	}
}

func turnErrorEvent(sessionID, turnID string, err error) protocol.ErrorEvent {
	evt := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		TurnID:    turnID,
		Code:      "turn_failed",
		Source:    "relay",
		Detail:    err.Error(),
	}
	var turnErr *voice.TurnError
	if errors.As(err, &turnErr) {
		evt.Source = turnErr.Stage
	}

	var providerErr *voice.ProviderError
	switch {
	case errors.Is(err, voice.ErrEmptyUtterance):
		evt.Code = "empty_utterance"
	case errors.Is(err, voice.ErrNoSpeech):
		evt.Code = "no_speech"
		evt.Retryable = true
	case errors.Is(err, session.ErrTurnActive):
		evt.Code = "turn_active"
		evt.Retryable = true
	case errors.Is(err, audio.ErrUnsupportedFormat):
		evt.Code = "unsupported_format"
	case errors.Is(err, audio.ErrDecode):
		evt.Code = "audio_decode_failed"
	case errors.As(err, &providerErr):
		evt.Code = providerErr.Code
		evt.Retryable = providerErr.Retryable
	case errors.Is(err, context.DeadlineExceeded):
		evt.Code = "turn_timeout"
		evt.Retryable = true
	}
	return evt
}
