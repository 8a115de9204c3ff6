// ABOUTME: Unified message store: append-only merged timeline with lock-free reads
// ABOUTME: Serves cursor windows and collects messages every registered consumer has passed

package msgstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/2389/clawswarm/internal/broadcast"
	"github.com/2389/clawswarm/internal/dedupe"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/metrics"
)

const appendedTopic = "appended"

// DefaultMaxRetained bounds the timeline when consumers stall.
const DefaultMaxRetained = 50_000

// Config holds store tuning.
type Config struct {
	// MaxRetained caps the number of stored messages. Oldest messages are
	// collected first once the cap is hit.
	MaxRetained int
	// Tombstones remembers collected keys so re-fetches stay deduplicated.
	// Optional.
	Tombstones *dedupe.Cache
	Logger     *slog.Logger
}

// Store holds the merged timeline ordered by (timestamp, platform, id).
// Append is the only mutation and runs under mu; Snapshot and Window read an
// immutable slice published through an atomic pointer.
type Store struct {
	mu          sync.Mutex
	timeline    atomic.Pointer[[]message.UnifiedMessage]
	keys        map[string]struct{}
	consumers   map[string]message.Cursor
	tombstones  *dedupe.Cache
	maxRetained int
	notify      *broadcast.Broadcaster[[]message.UnifiedMessage]
	logger      *slog.Logger
}

// New creates an empty store.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = DefaultMaxRetained
	}
	s := &Store{
		keys:        make(map[string]struct{}),
		consumers:   make(map[string]message.Cursor),
		tombstones:  cfg.Tombstones,
		maxRetained: cfg.MaxRetained,
		notify:      broadcast.New[[]message.UnifiedMessage](logger, 0),
		logger:      logger.With("component", "msgstore"),
	}
	empty := []message.UnifiedMessage{}
	s.timeline.Store(&empty)
	return s
}

// Append merges batch into the timeline. Messages whose key is already stored,
// tombstoned, or repeated within the batch are dropped silently. Returns the
// messages actually added, in timeline order.
func (s *Store) Append(batch []message.UnifiedMessage) []message.UnifiedMessage {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	added := make([]message.UnifiedMessage, 0, len(batch))
	for _, m := range batch {
		key := m.Key()
		if _, ok := s.keys[key]; ok {
			continue
		}
		if s.tombstones != nil && s.tombstones.Seen(key) {
			continue
		}
		s.keys[key] = struct{}{}
		added = append(added, m)
	}
	if len(added) == 0 {
		s.mu.Unlock()
		return nil
	}
	sort.Slice(added, func(i, j int) bool { return message.Less(added[i], added[j]) })

	merged := mergeSorted(*s.timeline.Load(), added)
	if over := len(merged) - s.maxRetained; over > 0 {
		unconsumed := s.unconsumedLocked(merged[:over])
		s.logger.Warn("retention cap reached, collecting oldest messages",
			"dropped", over, "unconsumed", unconsumed, "cap", s.maxRetained)
		metrics.MessagesCollected.WithLabelValues("retention").Add(float64(over - unconsumed))
		metrics.MessagesCollected.WithLabelValues("dropped_unconsumed").Add(float64(unconsumed))
		merged = s.dropLocked(merged, over)
	}
	s.timeline.Store(&merged)
	s.mu.Unlock()

	s.notify.Publish(appendedTopic, added)
	return added
}

// mergeSorted returns a new slice holding a and b in timeline order.
func mergeSorted(a, b []message.UnifiedMessage) []message.UnifiedMessage {
	out := make([]message.UnifiedMessage, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if message.Less(b[j], a[i]) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// dropLocked removes the first n messages and tombstones their keys.
func (s *Store) dropLocked(timeline []message.UnifiedMessage, n int) []message.UnifiedMessage {
	for _, m := range timeline[:n] {
		key := m.Key()
		delete(s.keys, key)
		if s.tombstones != nil {
			s.tombstones.Remember(key)
		}
	}
	rest := make([]message.UnifiedMessage, len(timeline)-n)
	copy(rest, timeline[n:])
	return rest
}

// Snapshot returns the current timeline. Callers must not modify it.
func (s *Store) Snapshot() []message.UnifiedMessage {
	return *s.timeline.Load()
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	return len(*s.timeline.Load())
}

// Window returns up to limit messages admitted by cursor and matching platforms,
// in ascending order, plus the cursor advanced past them. The result depends
// only on the cursor and the stored timeline, so repeating a call is safe.
func (s *Store) Window(platforms message.PlatformSet, cursor message.Cursor, limit int) ([]message.UnifiedMessage, message.Cursor) {
	snap := *s.timeline.Load()
	start := sort.Search(len(snap), func(i int) bool {
		return snap[i].TimestampUTCMs >= cursor.SinceTimestampUTCMs
	})

	out := make([]message.UnifiedMessage, 0)
	next := cursor
	for _, m := range snap[start:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if !platforms.Match(m.Platform) || !cursor.Admits(m) {
			continue
		}
		out = append(out, m)
		next = next.Advance(m)
	}
	return out, next
}

// Subscribe returns a channel that receives every appended batch until ctx is
// done. Batches can be dropped for slow readers; use them as wake-ups and
// re-read with Window.
func (s *Store) Subscribe(ctx context.Context) <-chan []message.UnifiedMessage {
	ch, _ := s.notify.Subscribe(ctx, appendedTopic)
	return ch
}

// RegisterConsumer starts tracking a consumer cursor for collection.
func (s *Store) RegisterConsumer(id string, cursor message.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers[id] = cursor
	s.logger.Debug("consumer registered", "consumer_id", id, "since", cursor.SinceTimestampUTCMs)
}

// UpdateConsumer records a consumer's acknowledged cursor and collects every
// message all consumers have passed. A cursor older than the recorded one is
// ignored. Unknown consumers are registered.
func (s *Store) UpdateConsumer(id string, cursor message.Cursor) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.consumers[id]; ok && !prev.LessOrEqual(cursor) {
		return 0
	}
	s.consumers[id] = cursor
	return s.collectLocked()
}

// UnregisterConsumer stops tracking a consumer.
func (s *Store) UnregisterConsumer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumers, id)
}

// Consumers returns a copy of the registered cursors.
func (s *Store) Consumers() map[string]message.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]message.Cursor, len(s.consumers))
	for k, v := range s.consumers {
		out[k] = v
	}
	return out
}

// collectLocked removes the longest timeline prefix every consumer has passed.
func (s *Store) collectLocked() int {
	if len(s.consumers) == 0 {
		return 0
	}
	timeline := *s.timeline.Load()
	n := 0
	for _, m := range timeline {
		if !s.passedByAllLocked(m) {
			break
		}
		n++
	}
	if n == 0 {
		return 0
	}
	rest := s.dropLocked(timeline, n)
	s.timeline.Store(&rest)
	s.logger.Debug("collected messages", "count", n, "remaining", len(rest))
	return n
}

// unconsumedLocked counts messages some registered consumer has not passed.
func (s *Store) unconsumedLocked(msgs []message.UnifiedMessage) int {
	if len(s.consumers) == 0 {
		return 0
	}
	n := 0
	for _, m := range msgs {
		if !s.passedByAllLocked(m) {
			n++
		}
	}
	return n
}

func (s *Store) passedByAllLocked(m message.UnifiedMessage) bool {
	for _, c := range s.consumers {
		if !c.Passed(m) {
			return false
		}
	}
	return true
}

// Close releases stream subscribers.
func (s *Store) Close() {
	s.notify.Close()
}
