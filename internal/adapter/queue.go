// ABOUTME: Pending buffer for push-fed platforms (webhooks, sync loops)
// ABOUTME: Keeps messages until a fetch cursor passes them so re-fetches are idempotent

package adapter

import (
	"sort"
	"sync"

	"github.com/2389/clawswarm/internal/message"
)

// Queue buffers pushed messages for an adapter's FetchSince. Messages stay
// until Trim is called with a cursor that has passed them.
type Queue struct {
	mu      sync.Mutex
	pending []message.UnifiedMessage
	keys    map[string]struct{}
	limit   int
}

// NewQueue creates a queue holding at most limit messages (oldest dropped).
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 10_000
	}
	return &Queue{keys: make(map[string]struct{}), limit: limit}
}

// Push adds messages, ignoring keys already pending. Returns the number added.
func (q *Queue) Push(msgs ...message.UnifiedMessage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	added := 0
	for _, m := range msgs {
		if _, ok := q.keys[m.Key()]; ok {
			continue
		}
		q.keys[m.Key()] = struct{}{}
		q.pending = append(q.pending, m)
		added++
	}
	sort.SliceStable(q.pending, func(i, j int) bool { return message.Less(q.pending[i], q.pending[j]) })
	if over := len(q.pending) - q.limit; over > 0 {
		for _, m := range q.pending[:over] {
			delete(q.keys, m.Key())
		}
		q.pending = append([]message.UnifiedMessage(nil), q.pending[over:]...)
	}
	return added
}

// Fetch returns pending messages admitted by since without removing them.
func (q *Queue) Fetch(since message.Cursor, max int) ([]message.UnifiedMessage, message.Cursor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return FilterSince(q.pending, since, max)
}

// Trim drops messages the cursor has passed.
func (q *Queue) Trim(cursor message.Cursor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.pending[:0]
	for _, m := range q.pending {
		if cursor.Passed(m) {
			delete(q.keys, m.Key())
			continue
		}
		kept = append(kept, m)
	}
	q.pending = kept
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
