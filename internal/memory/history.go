package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hellesgrind/emotionally-expressive-voice-assistant/internal/policy"
)

// DefaultHistoryLimit is the dialog log size; prompts see at most two lines
// fewer.
const DefaultHistoryLimit = 10

// History renders stored turns as prompt lines and records new exchanges.
type History struct {
	store  Store
	limit  int
	logger *slog.Logger
}

func NewHistory(store Store, limit int, logger *slog.Logger) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &History{store: store, limit: limit, logger: logger.With(slog.String("component", "history"))}
}

// Window is how many lines a prompt may see. The log drops its oldest
// exchange as soon as it reaches the limit, so a prompt sees limit-2 lines
// at most (rounded down to whole exchanges).
func (h *History) Window() int {
	w := h.limit - 2
	if w < 2 {
		w = 2
	}
	return w - w%2
}

// Lines returns "User: ..." and "You: ..." lines, oldest first.
func (h *History) Lines(ctx context.Context, userID string) ([]string, error) {
	records, err := h.store.RecentContext(ctx, userID, h.Window())
	if err != nil {
		return nil, err
	}
	// An exchange is stored as two rows; never start the window on a reply.
	if len(records) > 0 && records[0].Role == RoleAssistant {
		records = records[1:]
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, FormatLine(r))
	}
	return lines, nil
}

// Append stores one user utterance and the assistant reply as a single write.
// PII in either is redacted before it is persisted.
func (h *History) Append(ctx context.Context, userID, sessionID, userText, reply string) error {
	records := []TurnRecord{
		{UserID: userID, SessionID: sessionID, Role: RoleUser, Content: userText},
		{UserID: userID, SessionID: sessionID, Role: RoleAssistant, Content: reply},
	}
	for i := range records {
		redacted := policy.RedactPII(strings.TrimSpace(records[i].Content))
		records[i].Content = redacted.Text
		records[i].PIIRedacted = redacted.Changed()
		if redacted.Changed() {
			h.logger.Info("pii redacted from dialog turn",
				slog.String("session_id", sessionID),
				slog.String("role", records[i].Role),
				slog.Any("kinds", redacted.Kinds),
			)
		}
	}
	if err := h.store.SaveTurns(ctx, records...); err != nil {
		return fmt.Errorf("save exchange: %w", err)
	}
	return nil
}

func FormatLine(r TurnRecord) string {
	if r.Role == RoleAssistant {
		return "You: " + r.Content
	}
	return "User: " + r.Content
}
