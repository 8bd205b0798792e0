package memory

import (
	"context"
	"strings"
)

// NewStore picks a backend from databaseURL: empty is in-memory, postgres://
// and postgresql:// use pgx, sqlite:// or a *.db path use sqlite.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasSuffix(url, ".db") && !strings.Contains(url, "://"):
		return NewSQLiteStore(ctx, url)
	default:
		return NewPostgresStore(ctx, url)
	}
}
