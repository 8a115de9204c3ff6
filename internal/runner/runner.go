// ABOUTME: Agent runner loop: polls the gateway and answers each new message
// ABOUTME: Memory read, orchestration, memory append, and reply run under a per-message deadline

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/memory"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/metrics"
	"github.com/2389/clawswarm/internal/orchestration"
	"github.com/2389/clawswarm/internal/store"
)

const (
	DefaultTickTimeout = 2 * time.Minute
	DefaultConsumerID  = "clawswarm-agent"
)

// Gateway is the polling side of the gateway client.
type Gateway interface {
	PollMessages(ctx context.Context, req *gatewayrpc.PollMessagesRequest) (*gatewayrpc.PollMessagesResponse, error)
}

// Engine answers one message.
type Engine interface {
	Run(ctx context.Context, in orchestration.Input) (orchestration.Result, error)
}

// Memory is the conversation log.
type Memory interface {
	Read(ctx context.Context, query string) ([]memory.Entry, error)
	Append(ctx context.Context, entries ...memory.Entry) ([]memory.Entry, error)
}

// Replier delivers replies.
type Replier interface {
	Send(ctx context.Context, platform message.Platform, channelID, threadID, text string) error
}

// Config wires the runner.
type Config struct {
	ConsumerID  string
	MaxMessages int
	Platforms   []message.Platform
	TickTimeout time.Duration

	Gateway Gateway
	Engine  Engine
	Memory  Memory
	Replier Replier
	Cursors store.CursorStore
	Turns   store.TurnLog // optional

	Logger *slog.Logger
	Now    func() time.Time
}

// Runner is single-threaded: one message is fully handled before the next.
type Runner struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	cursor message.Cursor
	loaded bool
}

// New creates a runner.
func New(cfg Config) *Runner {
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = DefaultConsumerID
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultTickTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		logger: logger.With("component", "runner", "consumer_id", cfg.ConsumerID),
		now:    now,
	}
}

// Cursor returns the last acknowledged position.
func (r *Runner) Cursor() message.Cursor {
	return r.cursor
}

// Run ticks once immediately, then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context, ticker Ticker) error {
	defer ticker.Stop()
	r.logger.Info("runner started", "tick_timeout", r.cfg.TickTimeout, "platforms", r.cfg.Platforms)

	for {
		if err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopped")
			return nil
		case <-ticker.C():
		}
	}
}

// Tick polls once and handles every returned message in order. An
// unavailable gateway skips the tick and leaves the cursor unchanged.
func (r *Runner) Tick(ctx context.Context) error {
	if err := r.loadCursor(ctx); err != nil {
		return err
	}

	req := gatewayrpc.NewPollRequest(r.cursor, r.cfg.MaxMessages, r.cfg.ConsumerID, r.cfg.Platforms...)
	resp, err := r.cfg.Gateway.PollMessages(ctx, req)
	if errors.Is(err, gatewayrpc.ErrUnavailable) {
		r.logger.Warn("gateway unavailable, skipping tick", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("polling gateway: %w", err)
	}

	for _, m := range resp.Messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.handle(ctx, m)
		if err := ctx.Err(); err != nil {
			// shutting down mid-message; it is retried on restart
			return err
		}

		r.cursor = r.cursor.Advance(m)
		if err := r.cfg.Cursors.SaveCursor(ctx, r.cfg.ConsumerID, r.cursor); err != nil {
			r.logger.Error("failed to persist cursor", "error", err)
		}
	}
	return nil
}

func (r *Runner) loadCursor(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	c, err := r.cfg.Cursors.LoadCursor(ctx, r.cfg.ConsumerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c = message.Cursor{}
	case err != nil:
		return fmt.Errorf("loading cursor: %w", err)
	default:
		r.logger.Info("resuming from saved cursor", "since_ms", c.SinceTimestampUTCMs, "seen", len(c.SeenIDs))
	}
	r.cursor = c
	r.loaded = true
	return nil
}

// handle answers one message. Every failure is contained here.
func (r *Runner) handle(ctx context.Context, m message.UnifiedMessage) {
	start := r.now()
	logger := r.logger.With("msg_key", m.Key(), "channel_id", m.ChannelID)

	if strings.TrimSpace(m.Text) == "" {
		logger.Debug("skipping empty message")
		r.record(ctx, m, store.TurnSkipped, "empty text", 0)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()

	err := r.pipeline(pctx, m, logger)
	elapsed := r.now().Sub(start)

	outcome := store.TurnReplied
	var detail string
	switch {
	case err == nil:
		logger.Info("message answered", "duration", elapsed)
	case ctx.Err() != nil:
		return
	case errors.Is(pctx.Err(), context.DeadlineExceeded):
		outcome = store.TurnTimeout
		detail = err.Error()
		logger.Error("message timed out", "timeout", r.cfg.TickTimeout, "error", err)
	default:
		outcome = store.TurnFailed
		detail = err.Error()
		logger.Error("message failed", "error", err)
	}
	metrics.PipelineDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	r.record(ctx, m, outcome, detail, elapsed)
}

func (r *Runner) pipeline(ctx context.Context, m message.UnifiedMessage, logger *slog.Logger) error {
	text := strings.TrimSpace(m.Text)

	entries, err := r.cfg.Memory.Read(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("reading memory: %w", err)
		}
		logger.Warn("memory read failed, continuing without context", "error", err)
		entries = nil
	}

	res, err := r.cfg.Engine.Run(ctx, orchestration.Input{Text: text, MemoryContext: memory.Format(entries)})
	if err != nil {
		return fmt.Errorf("orchestration: %w", err)
	}
	logger.Debug("orchestration finished",
		"assignments", len(res.Spec.Assignments),
		"fallback_plan", res.FellBack,
		"summarized", res.Summarized,
	)

	if _, err := r.cfg.Memory.Append(ctx, memory.TurnEntries(m, res.Reply, r.now())...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("appending memory: %w", err)
		}
		logger.Warn("memory append failed", "error", err)
	}

	if err := r.cfg.Replier.Send(ctx, m.Platform, m.ChannelID, m.ThreadID, res.Reply); err != nil {
		return err
	}
	return nil
}

func (r *Runner) record(ctx context.Context, m message.UnifiedMessage, outcome store.TurnOutcome, detail string, d time.Duration) {
	if r.cfg.Turns == nil {
		return
	}
	t := &store.Turn{
		ConsumerID: r.cfg.ConsumerID,
		MessageKey: m.Key(),
		Platform:   m.Platform,
		ChannelID:  m.ChannelID,
		Outcome:    outcome,
		Detail:     detail,
		Duration:   d,
		CreatedAt:  r.now(),
	}
	if err := r.cfg.Turns.RecordTurn(ctx, t); err != nil {
		r.logger.Warn("failed to record turn", "error", err)
	}
}
