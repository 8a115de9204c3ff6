// ABOUTME: Discord adapter and sender over the discordgo REST client
// ABOUTME: Polls configured channels by snowflake and replies as message references

package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/message"
)

const (
	// MaxMessageLength is Discord's content limit for one message.
	MaxMessageLength = 2000
	// MaxChannels caps how many channels are polled per fetch.
	MaxChannels = 20
	// Epoch is the Discord snowflake epoch in Unix milliseconds.
	Epoch int64 = 1420070400000
)

type session interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds the bot token and the channels to poll.
type Config struct {
	Token      string
	ChannelIDs []string
}

// Adapter polls Discord channels and sends replies.
type Adapter struct {
	session  session
	channels []string
	logger   *slog.Logger
}

// New creates the adapter. It is disabled without a token or channel list.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	a := &Adapter{logger: logger.With("component", "discord")}
	if cfg.Token == "" {
		return a, nil
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	a.session = s
	a.channels = cfg.ChannelIDs
	if len(a.channels) > MaxChannels {
		a.logger.Warn("too many discord channels configured, polling the first ones",
			"configured", len(a.channels), "max", MaxChannels)
		a.channels = a.channels[:MaxChannels]
	}
	return a, nil
}

func (a *Adapter) Platform() message.Platform { return message.PlatformDiscord }

func (a *Adapter) Enabled() bool { return a.session != nil && len(a.channels) > 0 }

// SnowflakeToMs extracts the creation time from a snowflake id. Invalid ids map to 0.
func SnowflakeToMs(snowflake string) int64 {
	n, err := parseSnowflake(snowflake)
	if err != nil {
		return 0
	}
	return int64(n>>22) + Epoch
}

// MsToSnowflake returns the smallest snowflake created at ms.
func MsToSnowflake(ms int64) string {
	if ms <= Epoch {
		return "0"
	}
	return formatSnowflake(uint64(ms-Epoch) << 22)
}

// FetchSince reads each channel after the cursor's timestamp. A channel that
// fails is skipped; the fetch fails only when every channel failed. When a
// channel returns a full page, the batch stops at that page's newest message
// so the cursor never passes the channel's unread tail.
func (a *Adapter) FetchSince(ctx context.Context, since message.Cursor, max int) ([]message.UnifiedMessage, message.Cursor, error) {
	if !a.Enabled() {
		return nil, since, nil
	}
	if max <= 0 {
		max = 100
	}
	perChannel := max / len(a.channels)
	if perChannel < 1 {
		perChannel = 1
	}
	if perChannel > 100 {
		perChannel = 100
	}

	// One below the first snowflake at the cursor's millisecond so equal
	// timestamps come back and the cursor's seen ids decide.
	var after string
	if since.SinceTimestampUTCMs > Epoch {
		first, _ := parseSnowflake(MsToSnowflake(since.SinceTimestampUTCMs))
		after = formatSnowflake(first - 1)
	}

	var out []message.UnifiedMessage
	var lastErr error
	failed := 0
	cutoff := int64(math.MaxInt64)
	for _, ch := range a.channels {
		if err := ctx.Err(); err != nil {
			return nil, since, adapter.Unavailable(message.PlatformDiscord, err)
		}
		msgs, full, err := a.fetchChannel(ctx, ch, after, perChannel, since)
		if err != nil {
			failed++
			lastErr = err
			a.logger.Warn("channel fetch failed", "channel_id", ch, "error", err)
			continue
		}
		if full {
			if last := SnowflakeToMs(newestID(msgs)); last < cutoff {
				cutoff = last
			}
		}
		for _, dm := range msgs {
			m, ok := Normalize(dm)
			if !ok {
				continue
			}
			out = append(out, m)
		}
	}
	if failed == len(a.channels) {
		return nil, since, classify(lastErr)
	}

	if cutoff != math.MaxInt64 {
		kept := out[:0]
		for _, m := range out {
			if m.TimestampUTCMs <= cutoff {
				kept = append(kept, m)
			}
		}
		out = kept
	}
	sort.Slice(out, func(i, j int) bool { return message.Less(out[i], out[j]) })
	msgs, next := adapter.FilterSince(out, since, max)
	for _, m := range msgs {
		a.logger.Info("message received",
			"channel_id", m.ChannelID,
			"sender_handle", m.SenderHandle,
			"msg_id", m.ID,
			"text_preview", m.Preview(),
		)
	}
	return msgs, next, nil
}

// fetchChannel reads one page of a channel after the given snowflake. A full
// page the cursor admits nothing from is skipped so same-millisecond and
// system messages cannot stall the channel. full reports whether the channel
// may hold more messages after the returned page.
func (a *Adapter) fetchChannel(ctx context.Context, ch, after string, limit int, since message.Cursor) ([]*discordgo.Message, bool, error) {
	for {
		page, err := a.session.ChannelMessages(ch, limit, "", after, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, false, err
		}
		if len(page) < limit {
			return page, false, nil
		}
		if admitsAny(page, since) {
			return page, true, nil
		}
		next := newestID(page)
		if next == "" || next == after {
			return nil, false, nil
		}
		after = next
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
}

func admitsAny(page []*discordgo.Message, since message.Cursor) bool {
	for _, dm := range page {
		if m, ok := Normalize(dm); ok && since.Admits(m) {
			return true
		}
	}
	return false
}

// newestID returns the largest snowflake in page. Discord orders pages
// newest first, but nothing here depends on it.
func newestID(page []*discordgo.Message) string {
	var newest uint64
	id := ""
	for _, dm := range page {
		if dm == nil {
			continue
		}
		n, err := parseSnowflake(dm.ID)
		if err != nil {
			continue
		}
		if id == "" || n > newest {
			newest, id = n, dm.ID
		}
	}
	return id
}

// Normalize converts a default (type 0) message. Joins, pins and other
// system messages are skipped.
func Normalize(dm *discordgo.Message) (message.UnifiedMessage, bool) {
	if dm == nil || dm.Type != discordgo.MessageTypeDefault {
		return message.UnifiedMessage{}, false
	}
	var senderID, handle string
	if dm.Author != nil {
		senderID = dm.Author.ID
		handle = dm.Author.Username
		if handle == "" {
			handle = dm.Author.GlobalName
		}
	}
	var thread string
	if dm.Thread != nil {
		thread = dm.Thread.ID
	}
	var urls []string
	for _, att := range dm.Attachments {
		if att != nil && att.URL != "" {
			urls = append(urls, att.URL)
		}
	}
	return message.UnifiedMessage{
		ID:             dm.ID,
		Platform:       message.PlatformDiscord,
		ChannelID:      dm.ChannelID,
		ThreadID:       thread,
		SenderID:       senderID,
		SenderHandle:   handle,
		Text:           dm.Content,
		AttachmentURLs: urls,
		TimestampUTCMs: SnowflakeToMs(dm.ID),
	}, true
}

// Send posts text to a channel, truncated to the platform limit. A threadID
// that is a message id in the channel makes the reply reference it.
func (a *Adapter) Send(ctx context.Context, channelID, threadID, text string) error {
	if a.session == nil {
		return fmt.Errorf("discord: %w", adapter.ErrDisabled)
	}
	data := &discordgo.MessageSend{Content: Truncate(text, MaxMessageLength)}
	if threadID != "" {
		data.Reference = &discordgo.MessageReference{MessageID: threadID, ChannelID: channelID}
	}
	if _, err := a.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx)); err != nil {
		return classify(err)
	}
	return nil
}

// Truncate shortens text to at most limit runes.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func classify(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		if adapter.IsTransientStatus(rest.Response.StatusCode) {
			return adapter.Unavailable(message.PlatformDiscord, err)
		}
		return fmt.Errorf("discord API %d: %w", rest.Response.StatusCode, err)
	}
	return adapter.ClassifyNetwork(message.PlatformDiscord, err)
}

func parseSnowflake(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

func formatSnowflake(n uint64) string { return strconv.FormatUint(n, 10) }
