// ABOUTME: Tests for the tombstone cache
// ABOUTME: Uses a manual clock so expiry is checked without sleeping

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func newTestCache(ttl time.Duration, size int) (*Cache, *manualClock) {
	clk := &manualClock{now: time.Unix(1_700_000_000, 0)}
	return New(ttl, size, WithClock(clk.Now)), clk
}

func TestCache_SeenAfterRemember(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	defer c.Close()

	assert.False(t, c.Seen("telegram:1"))
	c.Remember("telegram:1")
	assert.True(t, c.Seen("telegram:1"))
}

func TestCache_Expiry(t *testing.T) {
	c, clk := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Remember("k")
	clk.Advance(59 * time.Second)
	assert.True(t, c.Seen("k"))
	clk.Advance(2 * time.Second)
	assert.False(t, c.Seen("k"))
}

func TestCache_SeenOrRemember(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	defer c.Close()

	assert.False(t, c.SeenOrRemember("k"))
	assert.True(t, c.SeenOrRemember("k"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	defer c.Close()

	c.Remember("a", "b", "c", "d")
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("d"))
}

func TestCache_RefreshMovesToBack(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	defer c.Close()

	c.Remember("a", "b", "c")
	c.Remember("a")
	c.Remember("d")
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
}

func TestCache_Sweep(t *testing.T) {
	c, clk := newTestCache(time.Minute, 10)
	defer c.Close()

	c.Remember("old")
	clk.Advance(30 * time.Second)
	c.Remember("new")
	clk.Advance(45 * time.Second)

	c.Sweep()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("new"))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(time.Hour, 1000)
	defer c.Close()

	var wg sync.WaitGroup
	dupes := make(chan string, 100)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				key := fmt.Sprintf("k-%d", j)
				if c.SeenOrRemember(key) {
					dupes <- key
				}
			}
		}()
	}
	wg.Wait()
	close(dupes)

	count := 0
	for range dupes {
		count++
	}
	// 10 goroutines x 10 keys, each key admitted exactly once.
	assert.Equal(t, 90, count)
}

func TestCache_CloseTwice(t *testing.T) {
	c, _ := newTestCache(time.Minute, 1)
	c.Close()
	assert.NotPanics(t, c.Close)
}
