// ABOUTME: Sends agent replies back to the originating platform
// ABOUTME: Rate-limits per platform and retries transient failures with backoff

package replier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/metrics"
)

// ErrDeliveryFailure wraps every reply that could not be delivered.
var ErrDeliveryFailure = errors.New("delivery failure")

const (
	DefaultMaxAttempts = 3
	DefaultRate        = 1.0
	DefaultBurst       = 3
	DefaultBackoffBase = time.Second
	maxBackoff         = 30 * time.Second
)

// Config tunes delivery.
type Config struct {
	MaxAttempts int
	// Rate is sends per second per platform.
	Rate        float64
	Burst       int
	BackoffBase time.Duration
	Logger      *slog.Logger
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Replier routes replies to the registered platform senders.
type Replier struct {
	senders     map[message.Platform]adapter.Sender
	limiters    map[message.Platform]*rate.Limiter
	maxAttempts int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// New creates a replier for senders. Later senders for the same platform win.
func New(cfg Config, senders ...adapter.Sender) *Replier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Replier{
		senders:     make(map[message.Platform]adapter.Sender, len(senders)),
		limiters:    make(map[message.Platform]*rate.Limiter, len(senders)),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		sleep:       cfg.Sleep,
		logger:      cfg.Logger.With("component", "replier"),
	}
	for _, s := range senders {
		if s == nil {
			continue
		}
		p := s.Platform()
		r.senders[p] = s
		r.limiters[p] = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	}
	return r
}

// Platforms lists the platforms with a registered sender.
func (r *Replier) Platforms() []message.Platform {
	out := make([]message.Platform, 0, len(r.senders))
	for _, p := range message.AllPlatforms {
		if _, ok := r.senders[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

type enabler interface {
	Enabled() bool
}

// Send delivers text to a channel, inside threadID when set. Transient
// failures are retried; anything else fails at once. Every failure wraps
// ErrDeliveryFailure.
func (r *Replier) Send(ctx context.Context, platform message.Platform, channelID, threadID, text string) error {
	sender, ok := r.senders[platform]
	if !ok {
		metrics.RepliesSent.WithLabelValues(platform.String(), "failed").Inc()
		return fmt.Errorf("%w: no sender for %s", ErrDeliveryFailure, platform)
	}
	if e, ok := sender.(enabler); ok && !e.Enabled() {
		metrics.RepliesSent.WithLabelValues(platform.String(), "failed").Inc()
		return fmt.Errorf("%w: %s: %w", ErrDeliveryFailure, platform, adapter.ErrDisabled)
	}

	limiter := r.limiters[platform]
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		err := sender.Send(ctx, channelID, threadID, text)
		if err == nil {
			metrics.RepliesSent.WithLabelValues(platform.String(), "sent").Inc()
			r.logger.Info("reply sent",
				"platform", platform,
				"channel_id", channelID,
				"thread_id", threadID,
				"attempt", attempt,
				"chars", len(text),
			)
			return nil
		}
		lastErr = err
		if !errors.Is(err, adapter.ErrUnavailable) || attempt == r.maxAttempts {
			break
		}

		wait := r.backoff(attempt)
		metrics.ReplyRetries.WithLabelValues(platform.String()).Inc()
		r.logger.Warn("reply send failed, retrying",
			"platform", platform,
			"channel_id", channelID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		if err := r.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	metrics.RepliesSent.WithLabelValues(platform.String(), "failed").Inc()
	return fmt.Errorf("%w: %s channel %s: %w", ErrDeliveryFailure, platform, channelID, lastErr)
}

// backoff doubles from the base per attempt, capped.
func (r *Replier) backoff(attempt int) time.Duration {
	d := r.backoffBase << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
