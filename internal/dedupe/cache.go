// ABOUTME: TTL tombstone cache for message keys that left the message store
// ABOUTME: Lets the store drop re-fetched ids after they were garbage-collected

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type tombstone struct {
	at      time.Time
	element *list.Element
}

// Cache remembers keys for a bounded time and a bounded count. Oldest keys are
// evicted first when the cache is full.
type Cache struct {
	mu      sync.Mutex
	keys    map[string]*tombstone
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. A background sweep removes expired keys once a minute.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	c := &Cache{
		keys:    make(map[string]*tombstone),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether key is remembered and not expired.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// Remember records keys. Re-remembering a key refreshes its expiry.
func (c *Cache) Remember(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.rememberLocked(k)
	}
}

// SeenOrRemember reports whether key was already remembered and records it
// if not, as a single atomic step.
func (c *Cache) SeenOrRemember(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveLocked(key) {
		return true
	}
	c.rememberLocked(key)
	return false
}

// Len returns the number of remembered keys, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func (c *Cache) liveLocked(key string) bool {
	t, ok := c.keys[key]
	return ok && c.now().Sub(t.at) < c.ttl
}

func (c *Cache) rememberLocked(key string) {
	now := c.now()
	if t, ok := c.keys[key]; ok {
		t.at = now
		c.order.MoveToBack(t.element)
		return
	}
	if c.maxSize > 0 && len(c.keys) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.keys, front.Value.(string))
		}
	}
	c.keys[key] = &tombstone{at: now, element: c.order.PushBack(key)}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Sweep removes expired keys. Keys are ordered by last refresh, so the sweep
// stops at the first live one.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for e := c.order.Front(); e != nil; {
		key := e.Value.(string)
		if now.Sub(c.keys[key].at) < c.ttl {
			return
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.keys, key)
		e = next
	}
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
