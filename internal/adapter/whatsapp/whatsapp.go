// ABOUTME: WhatsApp adapter fed by the webhook bus, and the Graph API sender
// ABOUTME: Inbound messages wait in a pending queue until the fetch cursor passes them

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/message"
)

const (
	// MaxMessageLength is the Cloud API text body limit.
	MaxMessageLength = 4096
	// DefaultGraphURL is the Graph API base including version.
	DefaultGraphURL = "https://graph.facebook.com/v18.0"
)

// Config holds Cloud API credentials.
type Config struct {
	AccessToken   string
	PhoneNumberID string
	GraphURL      string
	HTTPClient    *http.Client
}

// Adapter drains webhook deliveries and sends replies via the Graph API.
type Adapter struct {
	token         string
	phoneNumberID string
	graphURL      string
	client        *http.Client
	pending       *adapter.Queue
	logger        *slog.Logger
}

// New creates the adapter. It is disabled without a token and phone number id.
func New(cfg Config, logger *slog.Logger) *Adapter {
	graph := cfg.GraphURL
	if graph == "" {
		graph = DefaultGraphURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		token:         cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		graphURL:      strings.TrimSuffix(graph, "/"),
		client:        client,
		pending:       adapter.NewQueue(0),
		logger:        logger.With("component", "whatsapp"),
	}
}

func (a *Adapter) Platform() message.Platform { return message.PlatformWhatsApp }

func (a *Adapter) Enabled() bool { return a.token != "" && a.phoneNumberID != "" }

// Push queues a message delivered by the webhook.
func (a *Adapter) Push(m message.UnifiedMessage) {
	if a.pending.Push(m) > 0 {
		a.logger.Info("message received",
			"channel_id", m.ChannelID,
			"sender_handle", m.SenderHandle,
			"msg_id", m.ID,
			"text_preview", m.Preview(),
		)
	}
}

// FetchSince returns queued messages after the cursor.
func (a *Adapter) FetchSince(_ context.Context, since message.Cursor, max int) ([]message.UnifiedMessage, message.Cursor, error) {
	if !a.Enabled() {
		return nil, since, nil
	}
	a.pending.Trim(since)
	msgs, next := a.pending.Fetch(since, max)
	return msgs, next, nil
}

type sendRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Send delivers text to a wa_id. The thread id is used as the recipient
// when channelID is empty.
func (a *Adapter) Send(ctx context.Context, channelID, threadID, text string) error {
	if !a.Enabled() {
		return fmt.Errorf("whatsapp: %w", adapter.ErrDisabled)
	}
	to := channelID
	if to == "" {
		to = threadID
	}
	if to == "" {
		return fmt.Errorf("whatsapp: recipient wa_id is required")
	}

	req := sendRequest{MessagingProduct: "whatsapp", To: strings.TrimPrefix(to, "+"), Type: "text"}
	req.Text.Body = truncate(text, MaxMessageLength)
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.graphURL, a.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return adapter.ClassifyNetwork(message.PlatformWhatsApp, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return adapter.ClassifyHTTP(message.PlatformWhatsApp, resp.StatusCode, respBody)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
