package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockChat provides deterministic annotated replies when no API key is configured.
type MockChat struct{}

func NewMockChat() *MockChat { return &MockChat{} }

func (m *MockChat) Complete(ctx context.Context, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = strings.TrimSpace(strings.TrimPrefix(messages[i].Content, userPromptPrefix))
			break
		}
	}
	if last == "" {
		return "--he said cheerfully:-- \"I am listening!\"", nil
	}
	return fmt.Sprintf("--he said cheerfully:-- \"I heard you: %s!\"", last), nil
}
