// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/clawswarm/internal/message"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	cursors    map[string]message.Cursor // keyed by consumer ID
	embeddings map[int][]float32         // keyed by memory offset
	turns      []*Turn
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		cursors:    make(map[string]message.Cursor),
		embeddings: make(map[int][]float32),
	}
}

// LoadCursor returns the saved cursor or ErrNotFound.
func (m *MockStore) LoadCursor(ctx context.Context, consumerID string) (message.Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[consumerID]
	if !ok {
		return message.Cursor{}, ErrNotFound
	}
	return c, nil
}

// SaveCursor stores a copy of the cursor.
func (m *MockStore) SaveCursor(ctx context.Context, consumerID string, cursor message.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cursor.SeenIDs = slices.Clone(cursor.SeenIDs)
	m.cursors[consumerID] = cursor
	return nil
}

// PutEmbedding stores a copy of the vector.
func (m *MockStore) PutEmbedding(ctx context.Context, offset int, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[offset] = slices.Clone(vector)
	return nil
}

// Embeddings returns a copy of the index.
func (m *MockStore) Embeddings(ctx context.Context) (map[int][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int][]float32, len(m.embeddings))
	for k, v := range m.embeddings {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

// ClearEmbeddings empties the index.
func (m *MockStore) ClearEmbeddings(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings = make(map[int][]float32)
	return nil
}

// RecordTurn appends a copy of the turn.
func (m *MockStore) RecordTurn(ctx context.Context, t *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	m.turns = append(m.turns, &cp)
	return nil
}

// ListTurns returns matching turns, newest first.
func (m *MockStore) ListTurns(ctx context.Context, f TurnFilter) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Turn{}
	for _, t := range m.turns {
		if f.ConsumerID != "" && t.ConsumerID != f.ConsumerID {
			continue
		}
		if f.Outcome != "" && t.Outcome != f.Outcome {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit := normalizeTurnLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
