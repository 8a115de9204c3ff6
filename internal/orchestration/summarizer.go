// ABOUTME: Summarizer stage: condenses ordered worker results into one chat reply
// ABOUTME: Emoji are stripped from the model output before it is returned

package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/clawswarm/internal/llm"
)

// Summarizer merges worker output.
type Summarizer struct {
	llm   llm.Completer
	model string
}

// NewSummarizer creates a summarizer using model.
func NewSummarizer(completer llm.Completer, model string) *Summarizer {
	return &Summarizer{llm: completer, model: model}
}

// Summarize returns one reply. Empty output is ErrSummarizationEmpty.
func (s *Summarizer) Summarize(ctx context.Context, message string, results []WorkerResult) (string, error) {
	out, err := s.llm.Complete(ctx, llm.Request{
		Model:  s.model,
		System: systemPrompt(agentName, agentDescription, summarizerSystem),
		User:   summaryInput(message, results),
	})
	if err != nil {
		return "", fmt.Errorf("summarizer call: %w", err)
	}
	out = StripEmoji(out)
	if out == "" {
		return "", ErrSummarizationEmpty
	}
	return out, nil
}

func summaryInput(message string, results []WorkerResult) string {
	var b strings.Builder
	b.WriteString(identityPrefix)
	b.WriteString("User message:\n")
	b.WriteString(message)
	b.WriteString("\n\nWorker results, in order:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n### %d. %s (%s)\n", i+1, r.Worker, r.Status)
		if r.OK() {
			b.WriteString(r.Output)
		} else {
			b.WriteString("Failed: ")
			b.WriteString(r.ErrorDetail)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// StripEmoji removes emoji and their joiners. Lines that lost an emoji
// have their inner whitespace collapsed; the result is trimmed.
func StripEmoji(s string) string {
	if !strings.ContainsFunc(s, isEmoji) {
		return strings.TrimSpace(s)
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if !strings.ContainsFunc(line, isEmoji) {
			continue
		}
		stripped := strings.Map(func(r rune) rune {
			if isEmoji(r) {
				return -1
			}
			return r
		}, line)
		indent := len(stripped) - len(strings.TrimLeft(stripped, " \t"))
		lines[i] = stripped[:indent] + strings.Join(strings.Fields(stripped[indent:]), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, transport, flags
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols and dingbats
		return true
	case r >= 0x2B00 && r <= 0x2BFF:
		return true
	case r >= 0xE0020 && r <= 0xE007F: // tag sequences
		return true
	case r == 0x200D, r == 0xFE0F, r == 0x20E3:
		return true
	}
	return false
}
