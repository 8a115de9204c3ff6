// ABOUTME: Per-adapter ingest loop merging fetched messages into the unified store
// ABOUTME: Each adapter backs off on its own with jittered exponential delays

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/metrics"
)

// Backoff returns the wait after the n-th consecutive failure (n starts at 0):
// min(base·2^n, max), reduced by up to half according to jitter in [0, 1).
func Backoff(base, max time.Duration, n int, jitter float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}
	d := base
	for i := 0; i < n && d < max; i++ {
		d *= 2
	}
	d = min(d, max)
	if jitter <= 0 {
		return d
	}
	if jitter >= 1 {
		jitter = 0.999
	}
	return d - time.Duration(float64(d/2)*jitter)
}

// ingester owns one adapter: Idle → Fetching → (Merged | BackoffWait).
// Only its own goroutine touches cursor and failures.
type ingester struct {
	adapter  adapter.Adapter
	platform message.Platform
	gw       *Gateway
	cursor   message.Cursor
	failures int
	waiting  atomic.Bool
	logger   *slog.Logger
}

func (g *Gateway) newIngester(a adapter.Adapter) *ingester {
	return &ingester{
		adapter:  a,
		platform: a.Platform(),
		gw:       g,
		logger:   g.logger.With("platform", a.Platform()),
	}
}

// BackingOff reports whether the last fetch failed.
func (in *ingester) BackingOff() bool {
	return in.waiting.Load()
}

// run fetches until ctx is done.
func (in *ingester) run(ctx context.Context) {
	in.logger.Info("ingest started", "fetch_interval", in.gw.config.Gateway.FetchInterval)
	for {
		wait := in.step(ctx)
		if err := in.gw.sleep(ctx, wait); err != nil {
			in.logger.Info("ingest stopped")
			return
		}
	}
}

// step performs one fetch and returns how long to wait before the next.
func (in *ingester) step(ctx context.Context) time.Duration {
	cfg := in.gw.config.Gateway
	msgs, next, err := in.adapter.FetchSince(ctx, in.cursor, cfg.FetchMax)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		return in.fail(err)
	}

	if in.failures > 0 {
		in.logger.Info("platform recovered", "failures", in.failures)
	}
	in.failures = 0
	in.setWaiting(false)

	if added := in.gw.store.Append(msgs); len(added) > 0 {
		metrics.MessagesIngested.WithLabelValues(in.platform.String()).Add(float64(len(added)))
		metrics.StoredMessages.Set(float64(in.gw.store.Len()))
		in.gw.publishAppended(added)
		in.logger.Debug("merged messages", "count", len(added), "stored", in.gw.store.Len())
	}
	in.cursor = next

	// A full page means the platform has more waiting.
	if cfg.FetchMax > 0 && len(msgs) >= cfg.FetchMax {
		return 0
	}
	return cfg.FetchInterval
}

func (in *ingester) fail(err error) time.Duration {
	cfg := in.gw.config.Gateway
	kind := "error"
	if errors.Is(err, adapter.ErrUnavailable) {
		kind = "unavailable"
	}
	metrics.FetchErrors.WithLabelValues(in.platform.String(), kind).Inc()

	wait := Backoff(cfg.BackoffBase, cfg.BackoffMax, in.failures, in.gw.jitter())
	in.failures++
	in.setWaiting(true)
	in.logger.Warn("fetch failed, backing off",
		"error", err,
		"kind", kind,
		"failures", in.failures,
		"wait", wait,
	)
	return wait
}

func (in *ingester) setWaiting(waiting bool) {
	if in.waiting.Swap(waiting) == waiting {
		return
	}
	metrics.SetBackoff(in.platform.String(), waiting)
	status := healthpb.HealthCheckResponse_SERVING
	if waiting {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	in.gw.health.SetServingStatus(PlatformServiceName(in.platform), status)
}
