// ABOUTME: Director stage: asks the LLM for a SwarmSpec and validates it
// ABOUTME: Retries once on a malformed plan, then falls back to the response worker

package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/titanous/json5"

	"github.com/2389/clawswarm/internal/llm"
	"github.com/2389/clawswarm/internal/metrics"
)

// Director plans how to answer a message.
type Director struct {
	llm    llm.Completer
	model  string
	logger *slog.Logger
}

// NewDirector creates a director using model.
func NewDirector(completer llm.Completer, model string, logger *slog.Logger) *Director {
	if logger == nil {
		logger = slog.Default()
	}
	return &Director{llm: completer, model: model, logger: logger}
}

// Plan returns a valid SwarmSpec for text. After two unusable answers it
// returns the fallback plan with fellBack set; only context errors are returned.
func (d *Director) Plan(ctx context.Context, text, memoryContext string) (spec SwarmSpec, fellBack bool, err error) {
	user := taskContext(memoryContext, text)
	system := systemPrompt(agentName+"-Director", agentDescription, directorSystem)

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		prompt := user
		if lastErr != nil {
			prompt = user + "\n\n" + fmt.Sprintf(correctiveInstruction, lastErr)
		}

		raw, err := d.llm.Complete(ctx, llm.Request{Model: d.model, System: system, User: prompt, JSON: true})
		if err != nil {
			if ctx.Err() != nil {
				return SwarmSpec{}, false, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: director call: %v", ErrMalformedPlan, err)
		} else {
			spec, err := ParsePlan(raw)
			if err == nil {
				return withTasks(spec, text), false, nil
			}
			lastErr = err
		}
		d.logger.Warn("director plan rejected", "attempt", attempt, "error", lastErr)
	}

	metrics.PlanFallbacks.Inc()
	d.logger.Warn("director fell back to response worker", "error", lastErr)
	return FallbackPlan(text), true, nil
}

// FallbackPlan routes the whole message to the response worker.
func FallbackPlan(text string) SwarmSpec {
	return SwarmSpec{Assignments: []Assignment{{Worker: WorkerResponse, Task: text}}}
}

type planWire struct {
	DirectReply bool   `json:"direct_reply"`
	Reply       string `json:"reply"`
	Assignments []struct {
		Worker string `json:"worker"`
		Task   string `json:"task"`
	} `json:"assignments"`
}

// ParsePlan decodes strict JSON, then falls back to JSON5 on the first
// {...} block of raw, then validates the result.
func ParsePlan(raw string) (SwarmSpec, error) {
	var w planWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		block, ok := firstObject(raw)
		if !ok {
			return SwarmSpec{}, fmt.Errorf("%w: no JSON object in output", ErrMalformedPlan)
		}
		w = planWire{}
		if err := json5.Unmarshal([]byte(block), &w); err != nil {
			return SwarmSpec{}, fmt.Errorf("%w: %v", ErrMalformedPlan, err)
		}
	}

	spec := SwarmSpec{DirectReply: w.DirectReply, Reply: strings.TrimSpace(w.Reply)}
	if spec.DirectReply {
		if spec.Reply == "" {
			return SwarmSpec{}, fmt.Errorf("%w: direct_reply without reply text", ErrMalformedPlan)
		}
		return spec, nil
	}
	if len(w.Assignments) == 0 {
		return SwarmSpec{}, fmt.Errorf("%w: no assignments", ErrMalformedPlan)
	}
	for _, a := range w.Assignments {
		name, err := ParseWorkerName(a.Worker)
		if err != nil {
			return SwarmSpec{}, fmt.Errorf("%w: %w", ErrMalformedPlan, err)
		}
		spec.Assignments = append(spec.Assignments, Assignment{Worker: name, Task: strings.TrimSpace(a.Task)})
	}
	return spec, nil
}

// withTasks turns a direct reply into a response assignment and fills empty tasks.
func withTasks(spec SwarmSpec, text string) SwarmSpec {
	if spec.DirectReply {
		spec.Assignments = []Assignment{{Worker: WorkerResponse, Task: text}}
		return spec
	}
	for i := range spec.Assignments {
		if spec.Assignments[i].Task == "" {
			spec.Assignments[i].Task = text
		}
	}
	return spec
}

// firstObject returns the span from the first '{' to its matching '}',
// skipping braces inside strings.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case quote:
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
