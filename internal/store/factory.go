package store

import (
	"context"
	"strings"
)

// NewStore picks a backend from the database URL: empty selects the
// in-memory store, mongodb:// selects MongoDB, anything else PostgreSQL.
func NewStore(ctx context.Context, databaseURL, mongoDatabase string) (Store, error) {
	url := strings.TrimSpace(databaseURL)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		return NewMongoStore(ctx, url, mongoDatabase)
	default:
		return NewPostgresStore(ctx, url)
	}
}
