// ABOUTME: Tests for adapter helpers: error classification and the pending queue
// ABOUTME: Confirms queue fetches are idempotent until trimmed

package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawswarm/internal/message"
)

func wa(id string, ts int64) message.UnifiedMessage {
	return message.UnifiedMessage{ID: id, Platform: message.PlatformWhatsApp, ChannelID: "15550001", TimestampUTCMs: ts}
}

func TestClassifyHTTP(t *testing.T) {
	assert.NoError(t, ClassifyHTTP(message.PlatformDiscord, 200, nil))

	err := ClassifyHTTP(message.PlatformDiscord, 429, []byte("slow down"))
	assert.ErrorIs(t, err, ErrUnavailable)

	err = ClassifyHTTP(message.PlatformDiscord, 503, nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	err = ClassifyHTTP(message.PlatformDiscord, 401, []byte("bad token"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "bad token")
}

func TestClassifyNetwork(t *testing.T) {
	assert.NoError(t, ClassifyNetwork(message.PlatformTelegram, nil))
	assert.ErrorIs(t, ClassifyNetwork(message.PlatformTelegram, fmt.Errorf("wrap: %w", context.DeadlineExceeded)), ErrUnavailable)

	plain := errors.New("boom")
	assert.Equal(t, plain, ClassifyNetwork(message.PlatformTelegram, plain))
}

func TestQueue_FetchIsIdempotentUntilTrim(t *testing.T) {
	q := NewQueue(10)
	q.Push(wa("b", 20), wa("a", 10), wa("a", 10))
	require.Equal(t, 2, q.Len())

	first, next := q.Fetch(message.Cursor{}, 10)
	again, _ := q.Fetch(message.Cursor{}, 10)
	assert.Equal(t, first, again)
	assert.Equal(t, "a", first[0].ID)

	q.Trim(next)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_LimitDropsOldest(t *testing.T) {
	q := NewQueue(2)
	q.Push(wa("1", 1), wa("2", 2), wa("3", 3))

	got, _ := q.Fetch(message.Cursor{}, 0)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
}

func TestFilterSince_RespectsMax(t *testing.T) {
	msgs := []message.UnifiedMessage{wa("1", 1), wa("2", 2), wa("3", 3)}
	got, next := FilterSince(msgs, message.Cursor{SinceTimestampUTCMs: 1, SeenIDs: []string{"whatsapp:1"}}, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, int64(2), next.SinceTimestampUTCMs)
}
