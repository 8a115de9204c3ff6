// ABOUTME: Chat completion and embedding clients over an OpenAI-compatible API
// ABOUTME: The orchestration engine and memory subsystem depend only on the interfaces here

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// ErrEmptyCompletion is returned when the model answered with no choices.
var ErrEmptyCompletion = errors.New("empty completion")

// Request is a single-turn chat completion.
type Request struct {
	Model  string
	System string
	User   string
	// JSON asks the model for a JSON object response.
	JSON bool
}

// Completer produces one assistant message per request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures the OpenAI client.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	// MaxRetries overrides the SDK retry count when positive. Negative disables retries.
	MaxRetries int
}

// Client implements Completer and Embedder with openai-go.
type Client struct {
	api            openai.Client
	embeddingModel string
}

var (
	_ Completer = (*Client)(nil)
	_ Embedder  = (*Client)(nil)
)

// NewClient creates a client. Extra options are appended after the config.
func NewClient(cfg Config, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed+"/"))
	}
	switch {
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	}
	opts = append(opts, extra...)
	return &Client{
		api:            openai.NewClient(opts...),
		embeddingModel: cfg.EmbeddingModel,
	}
}

// Complete runs a chat completion and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion (%s): %w", req.Model, ErrEmptyCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per text using the configured embedding model.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embedding missing for input %d", i)
		}
	}
	return out, nil
}
