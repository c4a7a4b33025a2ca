package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed Store for dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Tuple
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Tuple)}
}

// Put stores a snapshot. A missing checkpoint ID is assigned; a missing
// created-at timestamp is stamped with the current time.
func (s *MemoryStore) Put(_ context.Context, cp Checkpoint, md Metadata) (Ref, error) {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[cp.ThreadID] = append(s.threads[cp.ThreadID], Tuple{Checkpoint: cp, Metadata: md})

	return Ref{ThreadID: cp.ThreadID, Namespace: cp.Namespace, CheckpointID: cp.ID}, nil
}

// Get returns the latest checkpoint for a thread, or nil.
func (s *MemoryStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	tuple, err := s.GetTuple(ctx, threadID)
	if err != nil || tuple == nil {
		return nil, err
	}
	return &tuple.Checkpoint, nil
}

// GetTuple returns the latest checkpoint and metadata for a thread, or nil.
func (s *MemoryStore) GetTuple(_ context.Context, threadID string) (*Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tuples := s.threads[threadID]
	if len(tuples) == 0 {
		return nil, nil
	}
	latest := tuples[len(tuples)-1]
	return &latest, nil
}

// List returns a thread's checkpoints newest-first.
func (s *MemoryStore) List(_ context.Context, threadID string) ([]Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tuples := s.threads[threadID]
	out := make([]Tuple, len(tuples))
	for i, t := range tuples {
		out[len(tuples)-1-i] = t
	}
	return out, nil
}
