// ABOUTME: Telegram adapter and sender built on the telego Bot API client
// ABOUTME: Long-polls getUpdates into a pending buffer and replies into the same topic

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/message"
)

// MaxMessageLength is Telegram's limit for one text message.
const MaxMessageLength = 4096

// botAPI is the subset of *telego.Bot the adapter uses.
type botAPI interface {
	GetUpdates(ctx context.Context, params *telego.GetUpdatesParams) ([]telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Config holds Telegram credentials and polling options.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIServer overrides the Bot API base URL.
	APIServer string
}

// Adapter polls Telegram and doubles as the platform's Sender.
type Adapter struct {
	bot         botAPI
	pollTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	offset  int
	pending *adapter.Queue
}

// New creates the adapter. An empty token yields a disabled adapter.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	a := &Adapter{
		pollTimeout: cfg.PollTimeout,
		logger:      logger.With("component", "telegram"),
		pending:     adapter.NewQueue(0),
	}
	if a.pollTimeout <= 0 {
		a.pollTimeout = 10 * time.Second
	}
	if cfg.Token == "" {
		return a, nil
	}

	opts := []telego.BotOption{telego.WithDiscardLogger()}
	if cfg.APIServer != "" {
		opts = append(opts, telego.WithAPIServer(cfg.APIServer))
	}
	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	a.bot = bot
	return a, nil
}

func newWithBot(bot botAPI, logger *slog.Logger) *Adapter {
	return &Adapter{
		bot:         bot,
		pollTimeout: time.Second,
		logger:      logger.With("component", "telegram"),
		pending:     adapter.NewQueue(0),
	}
}

func (a *Adapter) Platform() message.Platform { return message.PlatformTelegram }

func (a *Adapter) Enabled() bool { return a.bot != nil }

// FetchSince pulls new updates into the pending buffer, drops what the cursor
// has passed, and returns the admitted window. Updates acknowledged through
// the offset stay available until the cursor passes them.
func (a *Adapter) FetchSince(ctx context.Context, since message.Cursor, max int) ([]message.UnifiedMessage, message.Cursor, error) {
	if !a.Enabled() {
		return nil, since, nil
	}
	a.pending.Trim(since)

	limit := max
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	a.mu.Lock()
	offset := a.offset
	a.mu.Unlock()

	updates, err := a.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:         offset,
		Limit:          limit,
		Timeout:        int(a.pollTimeout.Seconds()),
		AllowedUpdates: []string{"message", "channel_post"},
	})
	if err != nil {
		return nil, since, classify(err)
	}

	var fresh []message.UnifiedMessage
	for _, u := range updates {
		if u.UpdateID >= offset {
			offset = u.UpdateID + 1
		}
		if m, ok := Normalize(u); ok {
			fresh = append(fresh, m)
		}
	}
	a.mu.Lock()
	a.offset = offset
	a.mu.Unlock()

	if n := a.pending.Push(fresh...); n > 0 {
		for _, m := range fresh {
			a.logger.Info("message received",
				"channel_id", m.ChannelID,
				"sender_handle", m.SenderHandle,
				"msg_id", m.ID,
				"text_preview", m.Preview(),
			)
		}
	}

	msgs, next := a.pending.Fetch(since, max)
	return msgs, next, nil
}

// Normalize converts an update carrying a message or channel post. Telegram
// message ids are only unique within a chat, so the id is "<chat_id>:<message_id>".
func Normalize(u telego.Update) (message.UnifiedMessage, bool) {
	msg := u.Message
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil {
		return message.UnifiedMessage{}, false
	}

	var senderID, handle string
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		handle = msg.From.Username
		if handle == "" {
			handle = msg.From.FirstName
		}
	}
	var thread string
	if msg.MessageThreadID != 0 {
		thread = strconv.Itoa(msg.MessageThreadID)
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	return message.UnifiedMessage{
		ID:             chatID + ":" + strconv.Itoa(msg.MessageID),
		Platform:       message.PlatformTelegram,
		ChannelID:      chatID,
		ThreadID:       thread,
		SenderID:       senderID,
		SenderHandle:   handle,
		Text:           text,
		AttachmentURLs: attachmentIDs(msg),
		TimestampUTCMs: msg.Date * 1000,
	}, true
}

// attachmentIDs lists file ids; resolving them to URLs needs a getFile call per file.
func attachmentIDs(msg *telego.Message) []string {
	var out []string
	if n := len(msg.Photo); n > 0 {
		out = append(out, msg.Photo[n-1].FileID)
	}
	if msg.Document != nil {
		out = append(out, msg.Document.FileID)
	}
	if msg.Audio != nil {
		out = append(out, msg.Audio.FileID)
	}
	if msg.Voice != nil {
		out = append(out, msg.Voice.FileID)
	}
	if msg.Video != nil {
		out = append(out, msg.Video.FileID)
	}
	return out
}

// Send replies to a chat, inside the forum topic when threadID is set. Long
// texts are split into several messages.
func (a *Adapter) Send(ctx context.Context, channelID, threadID, text string) error {
	if !a.Enabled() {
		return fmt.Errorf("telegram: %w", adapter.ErrDisabled)
	}
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", channelID, err)
	}
	var topic int
	if threadID != "" {
		if topic, err = strconv.Atoi(threadID); err != nil {
			return fmt.Errorf("telegram: invalid thread id %q: %w", threadID, err)
		}
	}

	for _, chunk := range ChunkMessage(text, MaxMessageLength) {
		params := &telego.SendMessageParams{
			ChatID:          telego.ChatID{ID: chatID},
			Text:            chunk,
			MessageThreadID: topic,
		}
		if _, err := a.bot.SendMessage(ctx, params); err != nil {
			return classify(err)
		}
	}
	return nil
}

// ChunkMessage splits text into pieces of at most maxLen bytes, preferring
// to break at a newline in the second half of each piece.
func ChunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxLen {
		cut := strings.LastIndex(text[:maxLen], "\n")
		if cut < maxLen/2 {
			cut = maxLen
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func classify(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		if adapter.IsTransientStatus(apiErr.ErrorCode) {
			return adapter.Unavailable(message.PlatformTelegram, err)
		}
		return fmt.Errorf("telegram: %w", err)
	}
	return adapter.Unavailable(message.PlatformTelegram, err)
}
