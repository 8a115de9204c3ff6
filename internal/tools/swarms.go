// ABOUTME: Swarms World client for launching agent tokens and claiming fees
// ABOUTME: The wallet private key is sent per request and never stored

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultSwarmsBaseURL is the public Swarms World API.
const DefaultSwarmsBaseURL = "https://swarms.world"

// SwarmsConfig configures the Swarms World client.
type SwarmsConfig struct {
	APIKey     string
	PrivateKey string
	BaseURL    string
	HTTPClient *http.Client
}

// Swarms calls the Swarms World token APIs.
type Swarms struct {
	apiKey     string
	privateKey string
	baseURL    string
	client     *http.Client
}

// NewSwarms creates a client. Missing keys surface as ErrNotConfigured on use.
func NewSwarms(cfg SwarmsConfig) *Swarms {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultSwarmsBaseURL
	}
	return &Swarms{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		privateKey: strings.TrimSpace(cfg.PrivateKey),
		baseURL:    base,
		client:     httpClient(cfg.HTTPClient),
	}
}

// LaunchTokenRequest describes a new agent listing and its token.
type LaunchTokenRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Ticker      string `json:"ticker"`
	// Image is a URL or base64 data; optional.
	Image string `json:"image,omitempty"`
}

// Validate checks the fields the API requires.
func (r LaunchTokenRequest) Validate() error {
	switch {
	case len(strings.TrimSpace(r.Name)) < 2:
		return fmt.Errorf("%w: name must be at least 2 characters", ErrInvalidArgument)
	case strings.TrimSpace(r.Description) == "":
		return fmt.Errorf("%w: description is required", ErrInvalidArgument)
	case len(r.Ticker) < 1 || len(r.Ticker) > 10:
		return fmt.Errorf("%w: ticker must be 1-10 characters", ErrInvalidArgument)
	}
	return nil
}

// LaunchToken creates a listing and launches its token. Returns the API's JSON result.
func (s *Swarms) LaunchToken(ctx context.Context, req LaunchTokenRequest) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("%w: SWARMS_API_KEY not set", ErrNotConfigured)
	}
	if s.privateKey == "" {
		return "", fmt.Errorf("%w: WALLET_PRIVATE_KEY not set", ErrNotConfigured)
	}
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if err := req.Validate(); err != nil {
		return "", err
	}

	body := struct {
		LaunchTokenRequest
		PrivateKey string `json:"private_key"`
	}{req, s.privateKey}

	data, err := postJSON(ctx, s.client, s.baseURL+"/api/token/launch",
		map[string]string{"Authorization": "Bearer " + s.apiKey}, body)
	if err != nil {
		return "", fmt.Errorf("launch_token: %w", err)
	}
	return compactJSON(data), nil
}

// ClaimFees claims accumulated fees for the token at ca.
func (s *Swarms) ClaimFees(ctx context.Context, ca string) (string, error) {
	if s.privateKey == "" {
		return "", fmt.Errorf("%w: WALLET_PRIVATE_KEY not set", ErrNotConfigured)
	}
	ca = strings.TrimSpace(ca)
	if len(ca) < 32 || len(ca) > 44 {
		return "", fmt.Errorf("%w: ca must be a 32-44 character address", ErrInvalidArgument)
	}

	body := map[string]string{"ca": ca, "privateKey": s.privateKey}
	data, err := postJSON(ctx, s.client, s.baseURL+"/api/product/claimfees", nil, body)
	if err != nil {
		return "", fmt.Errorf("claim_fees: %w", err)
	}
	return compactJSON(data), nil
}

// compactJSON re-encodes valid JSON without whitespace and passes other text through.
func compactJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return strings.TrimSpace(string(data))
	}
	out, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(string(data))
	}
	return string(out)
}
