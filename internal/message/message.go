// ABOUTME: Unified message schema shared by adapters, the gateway, and the runner
// ABOUTME: Defines the Platform enum and the immutable UnifiedMessage record

package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Platform identifies the chat platform a message came from.
// Numeric values are part of the wire format and must not be renumbered.
type Platform int32

const (
	PlatformUnspecified Platform = 0
	PlatformTelegram    Platform = 1
	PlatformDiscord     Platform = 2
	PlatformWhatsApp    Platform = 3
	PlatformEmail       Platform = 4
	PlatformMatrix      Platform = 5
)

var platformNames = map[Platform]string{
	PlatformUnspecified: "unspecified",
	PlatformTelegram:    "telegram",
	PlatformDiscord:     "discord",
	PlatformWhatsApp:    "whatsapp",
	PlatformEmail:       "email",
	PlatformMatrix:      "matrix",
}

// AllPlatforms lists every platform that can carry an adapter, in wire order.
var AllPlatforms = []Platform{
	PlatformTelegram,
	PlatformDiscord,
	PlatformWhatsApp,
	PlatformEmail,
	PlatformMatrix,
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("platform(%d)", int32(p))
}

// MarshalText encodes the platform by name so JSON payloads stay readable.
func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts a platform name or its wire number.
func (p *Platform) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if s == "" || s == "unspecified" {
		*p = PlatformUnspecified
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		*p = Platform(n)
		return nil
	}
	parsed, err := ParsePlatform(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePlatform resolves a platform by name (case-insensitive).
func ParsePlatform(name string) (Platform, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for p, n := range platformNames {
		if n == needle && p != PlatformUnspecified {
			return p, nil
		}
	}
	return PlatformUnspecified, fmt.Errorf("unknown platform %q", name)
}

// UnifiedMessage is the normalized inbound message. Adapters create it and
// nothing mutates it afterwards.
type UnifiedMessage struct {
	ID             string   `json:"id"`
	Platform       Platform `json:"platform"`
	ChannelID      string   `json:"channel_id"`
	ThreadID       string   `json:"thread_id,omitempty"`
	SenderID       string   `json:"sender_id"`
	SenderHandle   string   `json:"sender_handle,omitempty"`
	Text           string   `json:"text"`
	AttachmentURLs []string `json:"attachment_urls,omitempty"`
	TimestampUTCMs int64    `json:"timestamp_utc_ms"`
	RawMetadata    []byte   `json:"raw_metadata,omitempty"`
}

// Key is the store identity of a message. IDs are only unique per platform.
func (m UnifiedMessage) Key() string {
	return m.Platform.String() + ":" + m.ID
}

// Preview returns a shortened text suitable for log lines.
func (m UnifiedMessage) Preview() string {
	const limit = 80
	r := []rune(m.Text)
	if len(r) <= limit {
		return m.Text
	}
	return string(r[:limit]) + "..."
}

// Less orders messages by (timestamp, platform, id), the merged timeline order.
func Less(a, b UnifiedMessage) bool {
	if a.TimestampUTCMs != b.TimestampUTCMs {
		return a.TimestampUTCMs < b.TimestampUTCMs
	}
	if a.Platform != b.Platform {
		return a.Platform < b.Platform
	}
	return a.ID < b.ID
}

// PlatformSet is a filter over platforms. An empty set matches everything.
type PlatformSet map[Platform]struct{}

// NewPlatformSet builds a filter. PlatformUnspecified entries are ignored so
// that a request carrying only UNSPECIFIED means "all platforms".
func NewPlatformSet(platforms ...Platform) PlatformSet {
	set := make(PlatformSet, len(platforms))
	for _, p := range platforms {
		if p == PlatformUnspecified {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// Match reports whether p passes the filter.
func (s PlatformSet) Match(p Platform) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[p]
	return ok
}
