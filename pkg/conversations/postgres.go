package conversations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations in the conversations table.
// The table is created by the database package's migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a conversation. ON CONFLICT DO NOTHING keeps the call
// idempotent; the row is re-read so duplicate creates return the original.
func (s *PostgresStore) Create(ctx context.Context, threadID, sessionID, title string) (Row, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, session_id, title)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO NOTHING`,
		threadID, sessionID, title)
	if err != nil {
		return Row{}, fmt.Errorf("insert conversation: %w", err)
	}

	row, err := s.Get(ctx, threadID)
	if err != nil {
		return Row{}, err
	}
	if row == nil {
		return Row{}, fmt.Errorf("conversation %s missing after create", threadID)
	}
	return *row, nil
}

// ListBySession returns a session's conversations, updated_at descending.
func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, COALESCE(title, ''), created_at, updated_at
		FROM conversations
		WHERE session_id = $1
		ORDER BY updated_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Title, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns a conversation, or nil when absent.
func (s *PostgresStore) Get(ctx context.Context, threadID string) (*Row, error) {
	var r Row
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, COALESCE(title, ''), created_at, updated_at
		FROM conversations
		WHERE id = $1`, threadID).
		Scan(&r.ID, &r.SessionID, &r.Title, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &r, nil
}

// Delete removes a conversation; no-op when absent.
func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// UpdateTimestamp touches updated_at to NOW().
func (s *PostgresStore) UpdateTimestamp(ctx context.Context, threadID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("update conversation timestamp: %w", err)
	}
	return nil
}
