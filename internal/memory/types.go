package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnRecord stores a single user or assistant conversational turn.
type TurnRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves dialog history.
type Store interface {
	// SaveTurns stores records in order, all or none.
	SaveTurns(ctx context.Context, records ...TurnRecord) error
	// RecentContext returns at most limit records for userID, oldest first.
	RecentContext(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
	Close() error
}

// stamp fills in missing IDs and creation times.
func stamp(records []TurnRecord) []TurnRecord {
	now := time.Now().UTC()
	out := make([]TurnRecord, len(records))
	for i, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		out[i] = r
	}
	return out
}
