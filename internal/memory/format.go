// ABOUTME: Renders memory entries as the context block handed to the director
// ABOUTME: Also builds the user/agent entry pair recorded for each turn

package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389/clawswarm/internal/message"
)

// ContextHeader opens the rendered memory block.
const ContextHeader = "[Previous conversation context from memory]"

// Format renders entries oldest first. No entries renders as "".
func Format(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(ContextHeader)
	b.WriteByte('\n')
	for _, e := range entries {
		var who string
		switch {
		case e.Role == RoleAgent:
			who = "ClawSwarm"
		case e.Sender == "" || e.Sender == "-":
			who = "user"
		default:
			who = "@" + e.Sender
		}
		fmt.Fprintf(&b, "- %s [%s %s] %s: %s\n",
			e.Timestamp.Format("2006-01-02 15:04 UTC"), e.Platform, e.ChannelID, who, e.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// TurnEntries builds the two entries recorded for one exchange: the user's
// message at its own timestamp, then the agent reply at repliedAt.
func TurnEntries(m message.UnifiedMessage, reply string, repliedAt time.Time) []Entry {
	sender := m.SenderHandle
	if sender == "" {
		sender = m.SenderID
	}
	channel := m.ChannelID
	if m.ThreadID != "" {
		channel = m.ChannelID + "/" + m.ThreadID
	}
	return []Entry{
		{
			Timestamp: time.UnixMilli(m.TimestampUTCMs),
			Platform:  m.Platform,
			ChannelID: channel,
			Sender:    sender,
			Role:      RoleUser,
			Text:      m.Text,
		},
		{
			Timestamp: repliedAt,
			Platform:  m.Platform,
			ChannelID: channel,
			Sender:    "clawswarm",
			Role:      RoleAgent,
			Text:      reply,
		},
	}
}
