// Package checkpoint persists serialized turn-state snapshots keyed by
// thread. Two implementations are provided: an in-memory store for dev and
// tests, and a Postgres store for durable deployments. NewStore selects
// between them at startup, falling back to memory when no pool is given or
// the pool does not answer a ping.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultNamespace is used when a checkpoint carries no explicit namespace.
const DefaultNamespace = ""

// Checkpoint is one serialized turn-state snapshot.
type Checkpoint struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Namespace string          `json:"checkpoint_ns"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// Metadata describes how a checkpoint was produced.
type Metadata struct {
	Source  string            `json:"source"`
	Step    int               `json:"step"`
	Parents map[string]string `json:"parents,omitempty"`
}

// Ref identifies a stored checkpoint.
type Ref struct {
	ThreadID     string `json:"thread_id"`
	Namespace    string `json:"checkpoint_ns"`
	CheckpointID string `json:"checkpoint_id"`
}

// Tuple pairs a checkpoint with its metadata.
type Tuple struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	Metadata   Metadata   `json:"metadata"`
}

// Store is the checkpoint persistence capability.
// Thread isolation: one thread's checkpoints are invisible from any other
// thread_id. Lookups on unknown threads return nil, not an error.
type Store interface {
	// Put stores a versioned snapshot and returns its ref.
	Put(ctx context.Context, cp Checkpoint, md Metadata) (Ref, error)

	// Get retrieves the latest checkpoint for a thread, or nil if the
	// thread has never been written.
	Get(ctx context.Context, threadID string) (*Checkpoint, error)

	// GetTuple retrieves the latest checkpoint with its metadata, or nil.
	GetTuple(ctx context.Context, threadID string) (*Tuple, error)

	// List enumerates a thread's checkpoints newest-first.
	List(ctx context.Context, threadID string) ([]Tuple, error)
}
