package httpapi

import (
	"net/http"
	"strings"
)

// Status describes which collaborators the running service was built with.
type Status struct {
	STTProvider   string `json:"stt_provider"`
	LLMProvider   string `json:"llm_provider"`
	TTSProvider   string `json:"tts_provider"`
	MemoryBackend string `json:"memory_backend"`
	OutputFormat  string `json:"output_format"`
	Marker        string `json:"annotation_marker"`
	// FallbackActive reports whether synthesis currently runs on the fallback provider.
	FallbackActive func() bool `json:"-"`
}

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	Status
	TTSFallbackActive bool          `json:"tts_fallback_active"`
	Checks            []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.status
	checks := []statusCheck{
		providerCheck("stt", "Speech-to-text", st.STTProvider, "Set OPENAI_API_KEY or STT_PROVIDER=exec with STT_COMMAND."),
		providerCheck("llm", "Reply generation", st.LLMProvider, "Set OPENAI_API_KEY."),
		providerCheck("tts", "Speech synthesis", st.TTSProvider, "Set ELEVENLABS_API_KEY."),
	}
	if st.MemoryBackend == "in-memory" {
		checks = append(checks, statusCheck{
			ID:     "memory",
			Status: "warn",
			Label:  "Dialog history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to a postgres:// URL or a sqlite file to keep history across restarts.",
		})
	} else {
		checks = append(checks, statusCheck{ID: "memory", Status: "ok", Label: "Dialog history", Detail: st.MemoryBackend})
	}

	fallback := false
	if st.FallbackActive != nil {
		fallback = st.FallbackActive()
	}
	if fallback {
		checks = append(checks, statusCheck{
			ID:     "tts_failover",
			Status: "warn",
			Label:  "Synthesis failover",
			Detail: "primary provider failed; serving from fallback",
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		Status:            st,
		TTSFallbackActive: fallback,
		Checks:            checks,
	})
}

func providerCheck(id, label, provider, fix string) statusCheck {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || provider == "mock" {
		return statusCheck{
			ID:     id,
			Status: "warn",
			Label:  label,
			Detail: "mock backend",
			Fix:    fix,
		}
	}
	return statusCheck{ID: id, Status: "ok", Label: label, Detail: provider}
}
