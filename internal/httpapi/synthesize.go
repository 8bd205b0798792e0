package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/audio"
	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/voice"
)

type synthesizeRequest struct {
	Text string `json:"text"`
}

// handleSynthesize returns trimmed WAV audio for text. Trim details travel in
// X-* headers so the body stays playable as is.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}
	var req synthesizeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "body must be JSON with a text field")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	ctx := r.Context()
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}

	res, err := s.orchestrator.Synthesize(ctx, req.Text)
	if err != nil {
		status, code := synthesizeErrorStatus(err)
		if status == 0 {
			return
		}
		s.logger.Warn("synthesis request failed", "code", code, "error", err.Error())
		respondError(w, status, code, err.Error())
		return
	}

	h := w.Header()
	h.Set("X-Annotation-Spans", strconv.Itoa(len(res.Spans)))
	h.Set("X-Removed-Ms", strconv.Itoa(res.Audio.RemovedMs))
	h.Set("X-Stream-End", res.EndReason)
	if res.Unpaired {
		h.Set("X-Unpaired-Markers", "true")
	}
	if res.MalformedAlignment {
		h.Set("X-Malformed-Alignment", "true")
	}
	if res.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.Set("Content-Type", audio.OutputMIMEType)
	h.Set("Content-Length", strconv.Itoa(len(res.Audio.Data)))
	h.Set("X-Audio-Duration-Ms", strconv.FormatInt(res.Audio.Duration.Milliseconds(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Audio.Data)
}

// synthesizeErrorStatus maps a synthesis failure to a response. Status 0
// means the client is gone and nothing should be written.
func synthesizeErrorStatus(err error) (int, string) {
	var providerErr *voice.ProviderError
	switch {
	case errors.Is(err, context.Canceled):
		return 0, "cancelled"
	case errors.Is(err, voice.ErrEmptyText):
		return http.StatusBadRequest, "empty_text"
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "unsupported_format"
	case errors.Is(err, audio.ErrDecode):
		return http.StatusBadGateway, "audio_decode_failed"
	case errors.As(err, &providerErr):
		if providerErr.Retryable {
			return http.StatusServiceUnavailable, providerErr.Code
		}
		return http.StatusBadGateway, providerErr.Code
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "synthesis_timeout"
	default:
		return http.StatusBadGateway, "synthesis_failed"
	}
}
