// ABOUTME: In-memory fan-out broadcaster keyed by topic
// ABOUTME: Non-blocking publish; slow subscribers drop values instead of stalling producers

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber channel buffer.
const DefaultBufferSize = 64

// Broadcaster delivers published values to every subscriber of a topic.
// Delivery is best-effort: a subscriber whose buffer is full misses the value,
// so consumers that must not lose data treat values as wake-ups and re-read
// their source of truth.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan T // topic -> subID -> ch
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default and 0 for the default buffer.
func New[T any](logger *slog.Logger, bufferSize int) *Broadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]map[string]chan T),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for values on topic. The subscription is removed and
// its channel closed when ctx is done.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, topic string) (<-chan T, string) {
	subID := uuid.NewString()
	ch := make(chan T, b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan T)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish sends v to all subscribers of topic without blocking.
func (b *Broadcaster[T]) Publish(topic string, v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers[topic] {
		select {
		case ch <- v:
		default:
			b.logger.Debug("dropped value for slow subscriber", "topic", topic, "sub_id", id)
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Broadcaster[T]) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subscribers, topic)
	}
	b.closed = true
}
