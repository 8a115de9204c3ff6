// ABOUTME: Exa neural web search client
// ABOUTME: Returns ranked results with text snippets for the search worker

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultExaBaseURL is the public Exa API.
const DefaultExaBaseURL = "https://api.exa.ai"

// ExaConfig configures the Exa client.
type ExaConfig struct {
	APIKey     string
	BaseURL    string
	NumResults int
	HTTPClient *http.Client
}

// Exa searches the web.
type Exa struct {
	apiKey     string
	baseURL    string
	numResults int
	client     *http.Client
}

// SearchResult is one Exa hit.
type SearchResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	PublishedDate string `json:"publishedDate,omitempty"`
	Text          string `json:"text,omitempty"`
}

// NewExa creates a client.
func NewExa(cfg ExaConfig) *Exa {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultExaBaseURL
	}
	n := cfg.NumResults
	if n <= 0 {
		n = 5
	}
	return &Exa{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    base,
		numResults: n,
		client:     httpClient(cfg.HTTPClient),
	}
}

// Search runs a query and returns results in rank order.
func (e *Exa) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w: EXA_API_KEY not set", ErrNotConfigured)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidArgument)
	}

	body := map[string]any{
		"query":      query,
		"numResults": e.numResults,
		"contents": map[string]any{
			"text": map[string]any{"maxCharacters": 1000},
		},
	}
	data, err := postJSON(ctx, e.client, e.baseURL+"/search", map[string]string{"x-api-key": e.apiKey}, body)
	if err != nil {
		return nil, fmt.Errorf("exa search: %w", err)
	}

	var resp struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding exa response: %w", err)
	}
	return resp.Results, nil
}

// FormatResults renders results as a numbered plain-text list.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No results."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.PublishedDate != "" {
			fmt.Fprintf(&b, "   published %s\n", r.PublishedDate)
		}
		if text := strings.TrimSpace(r.Text); text != "" {
			fmt.Fprintf(&b, "   %s\n", strings.ReplaceAll(text, "\n", " "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
