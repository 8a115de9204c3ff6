// ABOUTME: Worker handlers for response, search, token launch, and developer tasks
// ABOUTME: Each handler does one narrow job and reports failures as errors

package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/titanous/json5"

	"github.com/2389/clawswarm/internal/llm"
	"github.com/2389/clawswarm/internal/tools"
)

// Task is the input to one worker.
type Task struct {
	// Text is the assignment's instruction.
	Text string
	// Message is the user's original message.
	Message string
	// MemoryContext is the rendered memory block, possibly empty.
	MemoryContext string
	// Hint is the director's draft answer for direct replies.
	Hint string
}

// Handler executes one assignment.
type Handler func(ctx context.Context, task Task) (string, error)

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string) ([]tools.SearchResult, error)
}

// TokenLauncher talks to Swarms World.
type TokenLauncher interface {
	LaunchToken(ctx context.Context, req tools.LaunchTokenRequest) (string, error)
	ClaimFees(ctx context.Context, ca string) (string, error)
}

// DeveloperRunner delegates coding tasks to an external command.
type DeveloperRunner interface {
	Configured() bool
	Run(ctx context.Context, task string) (string, error)
}

// workerDeps carries what the default handlers need.
type workerDeps struct {
	llm       llm.Completer
	models    func(role string) string
	search    Searcher
	tokens    TokenLauncher
	developer DeveloperRunner
}

func defaultHandlers(d workerDeps) map[WorkerName]Handler {
	return map[WorkerName]Handler{
		WorkerResponse:    d.respond,
		WorkerSearch:      d.searchWeb,
		WorkerTokenLaunch: d.launchToken,
		WorkerDeveloper:   d.develop,
	}
}

func (d workerDeps) respond(ctx context.Context, task Task) (string, error) {
	user := taskContext(task.MemoryContext, task.Text)
	if task.Hint != "" {
		user += "\n\n[Draft answer from the director; refine it if needed]\n" + task.Hint
	}
	return d.complete(ctx, "response", systemPrompt(agentName, agentDescription, responseSystem), user)
}

func (d workerDeps) searchWeb(ctx context.Context, task Task) (string, error) {
	if d.search == nil {
		return "", fmt.Errorf("search: %w", tools.ErrNotConfigured)
	}
	results, err := d.search.Search(ctx, task.Text)
	if err != nil {
		return "", err
	}
	user := "Request: " + task.Text + "\n\nSearch results:\n" + tools.FormatResults(results)
	return d.complete(ctx, "search", systemPrompt(agentName+"-Search", "Web and semantic search specialist", searchSystem), user)
}

type tokenAction struct {
	Action      string `json:"action"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Ticker      string `json:"ticker"`
	Image       string `json:"image"`
	CA          string `json:"ca"`
	Message     string `json:"message"`
}

func (d workerDeps) launchToken(ctx context.Context, task Task) (string, error) {
	if d.tokens == nil {
		return "", fmt.Errorf("token launch: %w", tools.ErrNotConfigured)
	}
	raw, err := d.llm.Complete(ctx, llm.Request{
		Model:  d.models("token_launch"),
		System: systemPrompt(agentName+"-TokenLaunch", "Swarms World token launch specialist", tokenLaunchSystem),
		User:   task.Text,
		JSON:   true,
	})
	if err != nil {
		return "", err
	}

	var act tokenAction
	if err := json.Unmarshal([]byte(raw), &act); err != nil {
		block, ok := firstObject(raw)
		if !ok {
			return "", fmt.Errorf("token launch: no JSON object in extraction")
		}
		if err := json5.Unmarshal([]byte(block), &act); err != nil {
			return "", fmt.Errorf("token launch: decoding extraction: %w", err)
		}
	}

	switch act.Action {
	case "launch_token":
		out, err := d.tokens.LaunchToken(ctx, tools.LaunchTokenRequest{
			Name:        act.Name,
			Description: act.Description,
			Ticker:      act.Ticker,
			Image:       act.Image,
		})
		if err != nil {
			return "", err
		}
		return "launch_token result: " + out, nil
	case "claim_fees":
		out, err := d.tokens.ClaimFees(ctx, act.CA)
		if err != nil {
			return "", err
		}
		return "claim_fees result: " + out, nil
	default:
		if msg := strings.TrimSpace(act.Message); msg != "" {
			return msg, nil
		}
		return "To launch a token I need a name, description, and ticker. To claim fees I need the token address.", nil
	}
}

func (d workerDeps) develop(ctx context.Context, task Task) (string, error) {
	if d.developer != nil && d.developer.Configured() {
		return d.developer.Run(ctx, task.Text)
	}
	return d.complete(ctx, "developer", systemPrompt(agentName+"-Developer", "Software development specialist", developerSystem), task.Text)
}

func (d workerDeps) complete(ctx context.Context, role, system, user string) (string, error) {
	out, err := d.llm.Complete(ctx, llm.Request{Model: d.models(role), System: system, User: user})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", llm.ErrEmptyCompletion
	}
	return out, nil
}

// runWorker executes one assignment and never fails the pass.
func runWorker(ctx context.Context, handlers map[WorkerName]Handler, a Assignment, task Task) WorkerResult {
	res := WorkerResult{Worker: a.Worker}
	h, ok := handlers[a.Worker]
	if !ok || h == nil {
		res.Status = StatusError
		res.ErrorDetail = fmt.Errorf("%w: %s", ErrUnknownWorker, a.Worker).Error()
		return res
	}
	out, err := h(ctx, task)
	if err == nil {
		out = strings.TrimSpace(out)
		if out == "" {
			err = errors.New("empty output")
		}
	}
	if err != nil {
		res.Status = StatusError
		res.ErrorDetail = fmt.Errorf("%w: %s: %v", ErrWorkerFailure, a.Worker, err).Error()
		return res
	}
	res.Status = StatusOK
	res.Output = out
	return res
}
