// ABOUTME: External tools the orchestration workers call
// ABOUTME: Shared errors and the JSON-over-HTTP helper used by the API clients

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotConfigured is returned when a tool is missing its credentials.
var ErrNotConfigured = errors.New("tool not configured")

// ErrInvalidArgument is returned for arguments the remote API would reject.
var ErrInvalidArgument = errors.New("invalid tool argument")

// DefaultTimeout bounds one API call.
const DefaultTimeout = 60 * time.Second

const maxResponseBytes = 1 << 20

// postJSON sends body as JSON and returns the raw response body. Non-2xx
// statuses are errors carrying a trimmed body.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		const maxBody = 500
		if len(data) > maxBody {
			data = data[:maxBody]
		}
		return nil, fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, data)
	}
	return data, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}
