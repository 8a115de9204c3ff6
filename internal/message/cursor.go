// ABOUTME: Consumer cursor into the merged message timeline
// ABOUTME: Timestamp plus tie-break id set so equal timestamps are never redelivered

package message

import (
	"slices"
	"sort"
)

// Cursor is a consumer's bookmark. Messages at SinceTimestampUTCMs whose key
// is in SeenIDs have already been delivered.
type Cursor struct {
	SinceTimestampUTCMs int64    `json:"since_timestamp_utc_ms"`
	SeenIDs             []string `json:"seen_ids,omitempty"`
}

// Admits reports whether m lies after the cursor.
func (c Cursor) Admits(m UnifiedMessage) bool {
	if m.TimestampUTCMs > c.SinceTimestampUTCMs {
		return true
	}
	if m.TimestampUTCMs < c.SinceTimestampUTCMs {
		return false
	}
	return !slices.Contains(c.SeenIDs, m.Key())
}

// Advance returns the cursor after delivering m. Messages older than the
// cursor leave it unchanged.
func (c Cursor) Advance(m UnifiedMessage) Cursor {
	switch {
	case m.TimestampUTCMs > c.SinceTimestampUTCMs:
		return Cursor{SinceTimestampUTCMs: m.TimestampUTCMs, SeenIDs: []string{m.Key()}}
	case m.TimestampUTCMs == c.SinceTimestampUTCMs:
		if slices.Contains(c.SeenIDs, m.Key()) {
			return c
		}
		seen := make([]string, 0, len(c.SeenIDs)+1)
		seen = append(seen, c.SeenIDs...)
		seen = append(seen, m.Key())
		sort.Strings(seen)
		return Cursor{SinceTimestampUTCMs: c.SinceTimestampUTCMs, SeenIDs: seen}
	default:
		return c
	}
}

// LessOrEqual reports c <= other: an earlier timestamp, or the same
// timestamp with a subset of seen ids.
func (c Cursor) LessOrEqual(other Cursor) bool {
	if c.SinceTimestampUTCMs != other.SinceTimestampUTCMs {
		return c.SinceTimestampUTCMs < other.SinceTimestampUTCMs
	}
	for _, id := range c.SeenIDs {
		if !slices.Contains(other.SeenIDs, id) {
			return false
		}
	}
	return true
}

// Passed reports whether the cursor has moved past m, meaning m will never
// be delivered again to this consumer.
func (c Cursor) Passed(m UnifiedMessage) bool {
	return !c.Admits(m)
}

// IsZero reports whether the cursor is at the start of the timeline.
func (c Cursor) IsZero() bool {
	return c.SinceTimestampUTCMs == 0 && len(c.SeenIDs) == 0
}
