package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatModel returns one complete reply for a prompt.
type ChatModel interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
