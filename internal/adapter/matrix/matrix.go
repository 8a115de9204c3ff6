// ABOUTME: Matrix adapter and sender built on mautrix
// ABOUTME: A sync loop buffers room text messages; replies are rendered from markdown

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/message"
)

// Config holds homeserver credentials and the room allow-list.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedRooms []string
}

type sendAPI interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Adapter buffers synced room messages and sends replies.
type Adapter struct {
	client  *mautrix.Client
	sender  sendAPI
	userID  id.UserID
	allowed map[string]struct{}
	pending *adapter.Queue
	logger  *slog.Logger
}

// New creates the adapter. It is disabled without a homeserver and token.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	a := &Adapter{
		userID:  id.UserID(cfg.UserID),
		allowed: make(map[string]struct{}, len(cfg.AllowedRooms)),
		pending: adapter.NewQueue(0),
		logger:  logger.With("component", "matrix"),
	}
	for _, r := range cfg.AllowedRooms {
		a.allowed[r] = struct{}{}
	}
	if cfg.Homeserver == "" || cfg.AccessToken == "" {
		return a, nil
	}
	client, err := mautrix.NewClient(cfg.Homeserver, a.userID, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	a.client = client
	a.sender = client
	return a, nil
}

func (a *Adapter) Platform() message.Platform { return message.PlatformMatrix }

func (a *Adapter) Enabled() bool { return a.sender != nil }

// Run syncs with the homeserver until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", a.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, a.handleEvent)

	a.logger.Info("matrix sync starting", "user_id", a.userID)
	err := a.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

func (a *Adapter) handleEvent(_ context.Context, evt *event.Event) {
	m, ok := a.Normalize(evt)
	if !ok {
		return
	}
	if a.pending.Push(m) > 0 {
		a.logger.Info("message received",
			"channel_id", m.ChannelID,
			"sender_handle", m.SenderHandle,
			"msg_id", m.ID,
			"text_preview", m.Preview(),
		)
	}
}

// Normalize converts a text message event from an allowed room. Our own
// messages are ignored.
func (a *Adapter) Normalize(evt *event.Event) (message.UnifiedMessage, bool) {
	if evt == nil || evt.Sender == a.userID {
		return message.UnifiedMessage{}, false
	}
	if len(a.allowed) > 0 {
		if _, ok := a.allowed[evt.RoomID.String()]; !ok {
			return message.UnifiedMessage{}, false
		}
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText || content.Body == "" {
		return message.UnifiedMessage{}, false
	}

	var thread string
	if rel := content.RelatesTo; rel != nil && rel.Type == event.RelThread {
		thread = rel.EventID.String()
	}
	return message.UnifiedMessage{
		ID:             evt.ID.String(),
		Platform:       message.PlatformMatrix,
		ChannelID:      evt.RoomID.String(),
		ThreadID:       thread,
		SenderID:       evt.Sender.String(),
		SenderHandle:   localpart(evt.Sender),
		Text:           content.Body,
		TimestampUTCMs: evt.Timestamp,
	}, true
}

func localpart(u id.UserID) string {
	s := strings.TrimPrefix(u.String(), "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

// FetchSince drains synced messages after the cursor.
func (a *Adapter) FetchSince(_ context.Context, since message.Cursor, max int) ([]message.UnifiedMessage, message.Cursor, error) {
	if !a.Enabled() {
		return nil, since, nil
	}
	a.pending.Trim(since)
	msgs, next := a.pending.Fetch(since, max)
	return msgs, next, nil
}

// Send posts a reply into the room, inside the thread when threadID is set.
func (a *Adapter) Send(ctx context.Context, channelID, threadID, text string) error {
	if !a.Enabled() {
		return fmt.Errorf("matrix: %w", adapter.ErrDisabled)
	}
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	var html bytes.Buffer
	if err := goldmark.Convert([]byte(text), &html); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = strings.TrimSpace(html.String())
	}
	if threadID != "" {
		content.RelatesTo = &event.RelatesTo{Type: event.RelThread, EventID: id.EventID(threadID)}
	}

	if _, err := a.sender.SendMessageEvent(ctx, id.RoomID(channelID), event.EventMessage, content); err != nil {
		if errors.Is(err, mautrix.MLimitExceeded) {
			return adapter.Unavailable(message.PlatformMatrix, err)
		}
		return adapter.ClassifyNetwork(message.PlatformMatrix, err)
	}
	return nil
}
