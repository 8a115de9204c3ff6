// ABOUTME: Markdown encoding of the memory log, one "## header" block per entry
// ABOUTME: The file stays human-readable and parses back into the same entries

package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389/clawswarm/internal/message"
)

// Role says who produced an entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Entry is one append-only memory record. Offset is its 0-based position in
// the log and keys its embedding.
type Entry struct {
	Offset    int
	Timestamp time.Time
	Platform  message.Platform
	ChannelID string
	Sender    string
	Role      Role
	Text      string
}

const headerPrefix = "## "

// normalize returns the entry as it will read back from the log.
func normalize(e Entry) Entry {
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Second)
	e.ChannelID = headerField(e.ChannelID)
	e.Sender = headerField(e.Sender)
	e.Text = strings.TrimSpace(strings.ReplaceAll(e.Text, "\r\n", "\n"))
	if e.Role != RoleAgent {
		e.Role = RoleUser
	}
	if _, err := message.ParsePlatform(e.Platform.String()); err != nil {
		e.Platform = message.PlatformUnspecified
	}
	return e
}

// headerField keeps header values on one line and free of the separator.
func headerField(s string) string {
	s = strings.NewReplacer("|", "/", "\n", " ", "\r", " ").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return s
}

// encode renders a normalized entry. Text lines that could be mistaken for a
// header are escaped with a leading backslash.
func encode(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s | %s | %s | %s | %s\n",
		headerPrefix, e.Timestamp.Format(time.RFC3339), e.Platform, e.ChannelID, e.Role, e.Sender)
	for _, line := range strings.Split(e.Text, "\n") {
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, `\`) {
			line = `\` + line
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// parse reads every block in order. Lines before the first header and
// malformed headers are skipped.
func parse(content string) []Entry {
	var (
		entries []Entry
		current *Entry
		body    []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(strings.Join(body, "\n"))
		current.Offset = len(entries)
		entries = append(entries, *current)
		current, body = nil, nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, headerPrefix) {
			if e, ok := parseHeader(line); ok {
				flush()
				current = &e
				continue
			}
		}
		if current == nil {
			continue
		}
		if strings.HasPrefix(line, `\`) {
			line = line[1:]
		}
		body = append(body, line)
	}
	flush()
	return entries
}

func parseHeader(line string) (Entry, bool) {
	fields := strings.Split(strings.TrimPrefix(line, headerPrefix), " | ")
	if len(fields) != 5 {
		return Entry{}, false
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[0]))
	if err != nil {
		return Entry{}, false
	}
	var platform message.Platform
	if err := platform.UnmarshalText([]byte(fields[1])); err != nil {
		return Entry{}, false
	}
	role := Role(strings.TrimSpace(fields[3]))
	if role != RoleUser && role != RoleAgent {
		return Entry{}, false
	}
	return Entry{
		Timestamp: ts.UTC(),
		Platform:  platform,
		ChannelID: strings.TrimSpace(fields[2]),
		Role:      role,
		Sender:    strings.TrimSpace(fields[4]),
	}, true
}
