// ABOUTME: Platform adapter and sender contracts shared by every chat platform
// ABOUTME: Normalizes transient platform failures into ErrUnavailable

package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/2389/clawswarm/internal/message"
)

// ErrUnavailable marks a transient platform failure (rate limit, 5xx, network).
// The gateway backs off on it and the replier retries it.
var ErrUnavailable = errors.New("platform unavailable")

// ErrDisabled is returned by senders whose platform has no credentials.
var ErrDisabled = errors.New("platform disabled")

// Adapter fetches inbound messages from one platform.
type Adapter interface {
	Platform() message.Platform
	// Enabled reports whether credentials are configured. Disabled adapters
	// return no messages and no error.
	Enabled() bool
	// FetchSince returns messages admitted by since, ordered ascending, and the
	// cursor after them. Fetching the same window twice yields the same ids.
	FetchSince(ctx context.Context, since message.Cursor, max int) ([]message.UnifiedMessage, message.Cursor, error)
}

// Sender delivers a reply using the same credentials as the platform's Adapter.
type Sender interface {
	Platform() message.Platform
	Send(ctx context.Context, channelID, threadID, text string) error
}

// Unavailable wraps err as a transient failure.
func Unavailable(platform message.Platform, err error) error {
	return fmt.Errorf("%s: %w: %v", platform, ErrUnavailable, err)
}

// IsTransientStatus reports whether an HTTP status code should be retried.
func IsTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// ClassifyHTTP converts an HTTP status into nil, ErrUnavailable, or a
// permanent error carrying a trimmed body.
func ClassifyHTTP(platform message.Platform, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	const maxBody = 500
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	err := fmt.Errorf("%s API %d: %s", platform, code, body)
	if IsTransientStatus(code) {
		return Unavailable(platform, err)
	}
	return err
}

// ClassifyNetwork wraps network-level errors as transient; others pass through.
func ClassifyNetwork(platform message.Platform, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Unavailable(platform, err)
	}
	return err
}

// FilterSince keeps messages admitted by since and returns them with the advanced cursor.
func FilterSince(msgs []message.UnifiedMessage, since message.Cursor, max int) ([]message.UnifiedMessage, message.Cursor) {
	out := make([]message.UnifiedMessage, 0, len(msgs))
	next := since
	for _, m := range msgs {
		if max > 0 && len(out) >= max {
			break
		}
		if !since.Admits(m) {
			continue
		}
		out = append(out, m)
		next = next.Advance(m)
	}
	return out, next
}
