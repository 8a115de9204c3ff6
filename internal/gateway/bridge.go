// ABOUTME: Bridges bus deliveries into push-fed adapters with deduplication
// ABOUTME: Webhook retries of the same platform message are silently ignored

package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/clawswarm/internal/bus"
	"github.com/2389/clawswarm/internal/dedupe"
	"github.com/2389/clawswarm/internal/message"
)

// bridge forwards messages published on each platform's inbound subject to
// that platform's adapter.
type bridge struct {
	dedupe *dedupe.Cache
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func newBridge(logger *slog.Logger) *bridge {
	return &bridge{
		// Meta retries unacknowledged webhooks for a few minutes.
		dedupe: dedupe.New(5*time.Minute, 100_000),
		logger: logger.With("component", "bridge"),
	}
}

// attach subscribes p to its inbound subject.
func (b *bridge) attach(c *bus.Client, p pusher) error {
	platform := p.Platform()
	sub, err := bus.SubscribeJSON(c, bus.SubjectInbound(platform), func(m message.UnifiedMessage) {
		b.handle(p, m)
	})
	if err != nil {
		return fmt.Errorf("subscribing %s bridge: %w", platform, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.logger.Info("bridge attached", "platform", platform, "subject", bus.SubjectInbound(platform))
	return nil
}

// handle pushes m unless the same platform message was already bridged.
// Messages for another platform are dropped.
func (b *bridge) handle(p pusher, m message.UnifiedMessage) {
	if m.Platform != p.Platform() {
		b.logger.Warn("dropping bridged message for wrong platform",
			"subject_platform", p.Platform(),
			"message_platform", m.Platform,
			"msg_id", m.ID,
		)
		return
	}
	key := "bridge:" + m.Key()
	if b.dedupe.SeenOrRemember(key) {
		b.logger.Debug("duplicate bridge message ignored", "platform", m.Platform, "msg_id", m.ID)
		return
	}
	p.Push(m)
}

func (b *bridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.dedupe.Close()
}
