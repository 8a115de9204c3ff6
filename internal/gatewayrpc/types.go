// ABOUTME: Request and response messages of the MessagingGateway service
// ABOUTME: Plain Go structs carried over gRPC by the JSON codec

package gatewayrpc

import "github.com/2389/clawswarm/internal/message"

const (
	// DefaultMaxMessages applies when a poll asks for zero messages.
	DefaultMaxMessages = 100
	// MaxMaxMessages caps a single poll.
	MaxMaxMessages = 1000
)

// Health statuses.
const (
	StatusServing  = "SERVING"
	StatusDegraded = "DEGRADED"
)

// PollMessagesRequest asks for messages after a cursor. An empty platform
// list (or only PlatformUnspecified) means all platforms.
type PollMessagesRequest struct {
	Platforms           []message.Platform `json:"platforms,omitempty"`
	SinceTimestampUTCMs int64              `json:"since_timestamp_utc_ms"`
	SeenIDs             []string           `json:"seen_ids,omitempty"`
	MaxMessages         int32              `json:"max_messages,omitempty"`
	// ConsumerID registers the caller's acknowledged cursor for collection.
	ConsumerID string `json:"consumer_id,omitempty"`
}

// Cursor returns the request's position in the timeline.
func (r *PollMessagesRequest) Cursor() message.Cursor {
	return message.Cursor{SinceTimestampUTCMs: r.SinceTimestampUTCMs, SeenIDs: r.SeenIDs}
}

// Limit applies the default and the cap to MaxMessages.
func (r *PollMessagesRequest) Limit() int {
	switch {
	case r.MaxMessages <= 0:
		return DefaultMaxMessages
	case r.MaxMessages > MaxMaxMessages:
		return MaxMaxMessages
	default:
		return int(r.MaxMessages)
	}
}

// NewPollRequest builds a request positioned at cursor.
func NewPollRequest(cursor message.Cursor, max int, consumerID string, platforms ...message.Platform) *PollMessagesRequest {
	return &PollMessagesRequest{
		Platforms:           platforms,
		SinceTimestampUTCMs: cursor.SinceTimestampUTCMs,
		SeenIDs:             cursor.SeenIDs,
		MaxMessages:         int32(max),
		ConsumerID:          consumerID,
	}
}

// PollMessagesResponse carries messages in timeline order and the cursor
// after the last one.
type PollMessagesResponse struct {
	Messages   []message.UnifiedMessage `json:"messages"`
	NextCursor message.Cursor           `json:"next_cursor"`
}

// StreamMessagesRequest opens a live feed after a cursor.
type StreamMessagesRequest struct {
	Platforms           []message.Platform `json:"platforms,omitempty"`
	SinceTimestampUTCMs int64              `json:"since_timestamp_utc_ms"`
	SeenIDs             []string           `json:"seen_ids,omitempty"`
}

// Cursor returns the request's starting position.
func (r *StreamMessagesRequest) Cursor() message.Cursor {
	return message.Cursor{SinceTimestampUTCMs: r.SinceTimestampUTCMs, SeenIDs: r.SeenIDs}
}

// StreamMessage is one streamed message with the cursor to resume after it.
type StreamMessage struct {
	Message message.UnifiedMessage `json:"message"`
	Cursor  message.Cursor         `json:"cursor"`
}

// HealthResponse reports gateway status.
type HealthResponse struct {
	Status           string             `json:"status"`
	Version          string             `json:"version"`
	EnabledPlatforms []message.Platform `json:"enabled_platforms"`
	// BackingOff lists enabled platforms currently waiting after a failure.
	BackingOff []message.Platform `json:"backing_off,omitempty"`
}
