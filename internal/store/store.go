// ABOUTME: Store interfaces and data types for clawswarm persistence
// ABOUTME: Consumer cursors, the memory embedding index, and the agent turn log

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/clawswarm/internal/message"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// CursorStore persists each consumer's acknowledged cursor so the agent
// resumes where it stopped after a restart.
type CursorStore interface {
	// LoadCursor returns ErrNotFound for a consumer that never saved one.
	LoadCursor(ctx context.Context, consumerID string) (message.Cursor, error)
	SaveCursor(ctx context.Context, consumerID string, cursor message.Cursor) error
}

// EmbeddingIndex stores one vector per memory log offset.
type EmbeddingIndex interface {
	PutEmbedding(ctx context.Context, offset int, vector []float32) error
	// Embeddings returns every stored vector keyed by offset.
	Embeddings(ctx context.Context) (map[int][]float32, error)
	ClearEmbeddings(ctx context.Context) error
}

// TurnLog records the outcome of every message the agent handled.
type TurnLog interface {
	RecordTurn(ctx context.Context, t *Turn) error
	ListTurns(ctx context.Context, filter TurnFilter) ([]*Turn, error)
}

// Store combines every persistence concern.
type Store interface {
	CursorStore
	EmbeddingIndex
	TurnLog
	Close() error
}

// TurnOutcome is how the agent finished with one inbound message.
type TurnOutcome string

const (
	TurnReplied TurnOutcome = "replied"
	TurnSkipped TurnOutcome = "skipped"
	TurnFailed  TurnOutcome = "failed"
	TurnTimeout TurnOutcome = "timeout"
)

// Turn is one processed inbound message.
type Turn struct {
	ID         string // UUID v4, generated when empty
	ConsumerID string
	MessageKey string // platform:id
	Platform   message.Platform
	ChannelID  string
	Outcome    TurnOutcome
	Detail     string // error text for failed turns
	Duration   time.Duration
	CreatedAt  time.Time
}

// TurnFilter narrows ListTurns.
type TurnFilter struct {
	ConsumerID string
	Outcome    TurnOutcome
	Limit      int // default 100, max 1000
}
