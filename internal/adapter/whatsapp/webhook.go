// ABOUTME: WhatsApp Cloud API webhook parsing and HTTP handler
// ABOUTME: Verifies subscriptions and publishes inbound messages to a publisher

package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/clawswarm/internal/message"
)

// maxWebhookBody bounds a single delivery.
const maxWebhookBody = 1 << 20

// Webhook is the envelope Meta posts for whatsapp_business_account events.
type Webhook struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one entry of value.messages.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *Media `json:"image,omitempty"`
	Document *Media `json:"document,omitempty"`
	Audio    *Media `json:"audio,omitempty"`
	Video    *Media `json:"video,omitempty"`
	Context  *struct {
		From string `json:"from"`
		ID   string `json:"id"`
	} `json:"context,omitempty"`
}

type Media struct {
	ID      string `json:"id"`
	Caption string `json:"caption,omitempty"`
}

// ParseWebhook extracts every inbound message from a delivery body.
func ParseWebhook(body []byte) ([]message.UnifiedMessage, error) {
	var hook Webhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decoding webhook: %w", err)
	}

	var out []message.UnifiedMessage
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, in := range change.Value.Messages {
				out = append(out, normalize(in, names))
			}
		}
	}
	return out, nil
}

func normalize(in InboundMessage, names map[string]string) message.UnifiedMessage {
	secs, _ := strconv.ParseInt(in.Timestamp, 10, 64)

	var text string
	var attachments []string
	if in.Text != nil {
		text = in.Text.Body
	}
	for _, m := range []*Media{in.Image, in.Document, in.Audio, in.Video} {
		if m == nil {
			continue
		}
		attachments = append(attachments, m.ID)
		if text == "" {
			text = m.Caption
		}
	}

	var thread string
	if in.Context != nil {
		thread = in.Context.ID
	}
	handle := names[in.From]
	if handle == "" {
		handle = in.From
	}

	return message.UnifiedMessage{
		ID:             in.ID,
		Platform:       message.PlatformWhatsApp,
		ChannelID:      in.From,
		ThreadID:       thread,
		SenderID:       in.From,
		SenderHandle:   handle,
		Text:           text,
		AttachmentURLs: attachments,
		TimestampUTCMs: secs * 1000,
	}
}

// Publisher receives parsed inbound messages.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Handler serves the webhook endpoint: GET for subscription verification,
// POST for deliveries.
type Handler struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 checking when set.
	AppSecret string
	Subject   string
	Publisher Publisher
	Logger    *slog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.deliver(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.VerifyToken == "" ||
		!hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(h.VerifyToken)) {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	if h.AppSecret != "" && !ValidSignature(h.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.Logger.Warn("rejecting webhook with bad signature", "remote", r.RemoteAddr)
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	msgs, err := ParseWebhook(body)
	if err != nil {
		h.Logger.Warn("rejecting malformed webhook", "error", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	for _, m := range msgs {
		if err := h.Publisher.PublishJSON(h.Subject, m); err != nil {
			h.Logger.Error("failed to publish webhook message", "msg_id", m.ID, "error", err)
			http.Error(w, "publish failed", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// ValidSignature checks Meta's "sha256=<hex>" HMAC of the raw body.
func ValidSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
