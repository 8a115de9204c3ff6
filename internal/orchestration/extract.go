// ABOUTME: Strips echoed prompt context from model output
// ABOUTME: Used when the summarizer produced nothing usable

package orchestration

import (
	"strings"
)

var replyLabels = []string{"**ClawSwarm:**", "ClawSwarm:", "**Assistant:**", "Assistant:"}

// ExtractFinalReply returns only the final reply in raw, removing echoed
// memory context and the echoed user message.
func ExtractFinalReply(raw, userMessage string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}

	if idx := strings.LastIndex(text, CurrentMessageMarker); idx >= 0 {
		after := strings.TrimSpace(text[idx+len(CurrentMessageMarker):])
		task := strings.TrimSpace(userMessage)
		if task != "" && strings.HasPrefix(after, task) {
			if rest := strings.TrimSpace(after[len(task):]); rest != "" {
				return rest
			}
		}
		return after
	}

	for _, label := range replyLabels {
		if idx := strings.LastIndex(text, label); idx >= 0 {
			if reply := strings.TrimSpace(text[idx+len(label):]); reply != "" {
				return reply
			}
		}
	}

	// Last contiguous block, stopping at a context header.
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	end := len(lines) - 1
	for end >= 0 && lines[end] == "" {
		end--
	}
	if end < 0 {
		return text
	}
	start := end
	for start >= 0 && lines[start] != "" && !isContextHeader(lines[start]) {
		start--
	}
	if block := strings.TrimSpace(strings.Join(lines[start+1:end+1], "\n")); block != "" {
		return block
	}
	return text
}

func isContextHeader(line string) bool {
	return strings.HasPrefix(line, "[") && strings.Contains(strings.ToLower(line), "context")
}
