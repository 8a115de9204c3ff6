// ABOUTME: Tests for cursor admission, advancement, and ordering
// ABOUTME: Covers same-timestamp tie-breaking across platforms

package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(p Platform, id string, ts int64) UnifiedMessage {
	return UnifiedMessage{ID: id, Platform: p, ChannelID: "c", TimestampUTCMs: ts}
}

func TestCursor_ZeroAdmitsEverything(t *testing.T) {
	var c Cursor
	assert.True(t, c.IsZero())
	assert.True(t, c.Admits(msg(PlatformTelegram, "1", 0)))
	assert.True(t, c.Admits(msg(PlatformTelegram, "1", 5)))
}

func TestCursor_AdvanceAndTieBreak(t *testing.T) {
	var c Cursor
	a := msg(PlatformTelegram, "1", 100)
	b := msg(PlatformDiscord, "1", 100)

	c = c.Advance(a)
	assert.Equal(t, int64(100), c.SinceTimestampUTCMs)
	assert.False(t, c.Admits(a), "delivered message must not be admitted again")
	assert.True(t, c.Admits(b), "same id on another platform is a different message")

	c = c.Advance(b)
	assert.False(t, c.Admits(b))
	assert.Len(t, c.SeenIDs, 2)

	later := msg(PlatformTelegram, "2", 101)
	c = c.Advance(later)
	assert.Equal(t, []string{"telegram:2"}, c.SeenIDs)
	assert.False(t, c.Admits(a))
}

func TestCursor_AdvanceIgnoresOlder(t *testing.T) {
	c := Cursor{}.Advance(msg(PlatformTelegram, "5", 500))
	same := c.Advance(msg(PlatformTelegram, "4", 400))
	assert.Equal(t, c, same)
}

func TestCursor_LessOrEqual(t *testing.T) {
	c1 := Cursor{SinceTimestampUTCMs: 10}
	c2 := Cursor{SinceTimestampUTCMs: 10, SeenIDs: []string{"telegram:1"}}
	c3 := Cursor{SinceTimestampUTCMs: 11}

	assert.True(t, c1.LessOrEqual(c2))
	assert.False(t, c2.LessOrEqual(c1))
	assert.True(t, c2.LessOrEqual(c3))
	assert.True(t, c2.LessOrEqual(c2))
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" Telegram ")
	require.NoError(t, err)
	assert.Equal(t, PlatformTelegram, p)

	_, err = ParsePlatform("unspecified")
	assert.Error(t, err)

	_, err = ParsePlatform("irc")
	assert.Error(t, err)
}

func TestPlatformSet_EmptyMatchesAll(t *testing.T) {
	all := NewPlatformSet(PlatformUnspecified)
	assert.True(t, all.Match(PlatformDiscord))

	only := NewPlatformSet(PlatformTelegram)
	assert.True(t, only.Match(PlatformTelegram))
	assert.False(t, only.Match(PlatformDiscord))
}

func TestLess_TimelineOrder(t *testing.T) {
	assert.True(t, Less(msg(PlatformDiscord, "9", 1), msg(PlatformTelegram, "1", 2)))
	assert.True(t, Less(msg(PlatformTelegram, "9", 2), msg(PlatformDiscord, "1", 2)))
	assert.True(t, Less(msg(PlatformTelegram, "1", 2), msg(PlatformTelegram, "2", 2)))
}

func TestPlatform_JSONUsesNames(t *testing.T) {
	data, err := json.Marshal(UnifiedMessage{ID: "1", Platform: PlatformDiscord})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"platform":"discord"`)

	var m UnifiedMessage
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","platform":"matrix"}`), &m))
	assert.Equal(t, PlatformMatrix, m.Platform)

	var p Platform
	require.NoError(t, p.UnmarshalText([]byte("1")))
	assert.Equal(t, PlatformTelegram, p)
	assert.Error(t, p.UnmarshalText([]byte("irc")))
}
