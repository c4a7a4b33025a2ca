// Package conversations provides the conversation metadata CRUD layer:
// per-thread titles and session listings, stored independently of the
// checkpoint store. In-memory and Postgres implementations are provided.
package conversations

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Row is a single conversation record. The id doubles as the thread_id.
type Row struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the conversation persistence capability.
type Store interface {
	// Create inserts a conversation. Idempotent: a duplicate create returns
	// the existing row unchanged.
	Create(ctx context.Context, threadID, sessionID, title string) (Row, error)

	// ListBySession returns a session's conversations ordered by
	// updated_at descending.
	ListBySession(ctx context.Context, sessionID string) ([]Row, error)

	// Get returns a single conversation, or nil when absent.
	Get(ctx context.Context, threadID string) (*Row, error)

	// Delete removes a conversation. No-op when absent.
	Delete(ctx context.Context, threadID string) error

	// UpdateTimestamp touches updated_at to now.
	UpdateTimestamp(ctx context.Context, threadID string) error
}

var sentenceEnd = regexp.MustCompile(`[.!?]`)

// DeriveTitle derives a short conversation title from the first user
// message: take the first sentence, then truncate on a word boundary with a
// "..." suffix if still longer than maxLength. Empty or whitespace-only
// input is returned unchanged.
func DeriveTitle(message string, maxLength int) string {
	if strings.TrimSpace(message) == "" {
		return message
	}

	title := message
	if loc := sentenceEnd.FindStringIndex(message); loc != nil {
		title = message[:loc[1]]
	}

	if len(title) <= maxLength {
		return title
	}

	truncated := title[:maxLength-3]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return strings.TrimRight(truncated, " ") + "..."
}
