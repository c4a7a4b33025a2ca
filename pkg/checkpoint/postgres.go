package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists checkpoints in the checkpoints table.
// The table is created by the database package's migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Put stores a snapshot.
func (s *PostgresStore) Put(ctx context.Context, cp Checkpoint, md Metadata) (Ref, error) {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return Ref{}, fmt.Errorf("marshal checkpoint metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id) DO UPDATE
		SET state = EXCLUDED.state, metadata = EXCLUDED.metadata`,
		cp.ThreadID, cp.Namespace, cp.ID, []byte(cp.State), mdJSON, cp.CreatedAt)
	if err != nil {
		return Ref{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	return Ref{ThreadID: cp.ThreadID, Namespace: cp.Namespace, CheckpointID: cp.ID}, nil
}

// Get returns the latest checkpoint for a thread, or nil.
func (s *PostgresStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	tuple, err := s.GetTuple(ctx, threadID)
	if err != nil || tuple == nil {
		return nil, err
	}
	return &tuple.Checkpoint, nil
}

// GetTuple returns the latest checkpoint and metadata for a thread, or nil.
func (s *PostgresStore) GetTuple(ctx context.Context, threadID string) (*Tuple, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT thread_id, checkpoint_ns, checkpoint_id, state, metadata, created_at
		FROM checkpoints
		WHERE thread_id = $1
		ORDER BY created_at DESC, checkpoint_id DESC
		LIMIT 1`, threadID)

	tuple, err := scanTuple(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	return tuple, nil
}

// List returns a thread's checkpoints newest-first.
func (s *PostgresStore) List(ctx context.Context, threadID string) ([]Tuple, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT thread_id, checkpoint_ns, checkpoint_id, state, metadata, created_at
		FROM checkpoints
		WHERE thread_id = $1
		ORDER BY created_at DESC, checkpoint_id DESC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Tuple
	for rows.Next() {
		tuple, err := scanTuple(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, *tuple)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTuple(row rowScanner) (*Tuple, error) {
	var (
		tuple  Tuple
		state  []byte
		mdJSON []byte
	)
	err := row.Scan(
		&tuple.Checkpoint.ThreadID,
		&tuple.Checkpoint.Namespace,
		&tuple.Checkpoint.ID,
		&state,
		&mdJSON,
		&tuple.Checkpoint.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tuple.Checkpoint.State = json.RawMessage(state)
	if len(mdJSON) > 0 {
		if err := json.Unmarshal(mdJSON, &tuple.Metadata); err != nil {
			return nil, fmt.Errorf("decode checkpoint metadata: %w", err)
		}
	}
	return &tuple, nil
}
