package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/message"
)

func TestBackoff(t *testing.T) {
	base, max := time.Second, 10*time.Second
	tests := []struct {
		n      int
		jitter float64
		want   time.Duration
	}{
		{0, 0, time.Second},
		{1, 0, 2 * time.Second},
		{3, 0, 8 * time.Second},
		{4, 0, 10 * time.Second},
		{60, 0, 10 * time.Second},
		{0, 0.5, 750 * time.Millisecond},
		{4, 0.5, 7500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d/jitter=%v", tt.n, tt.jitter), func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(base, max, tt.n, tt.jitter))
		})
	}

	assert.Zero(t, Backoff(0, max, 3, 0))
	assert.Equal(t, time.Second, Backoff(time.Second, 0, 5, 0), "max below base clamps to base")
	for i := 0; i < 100; i++ {
		d := Backoff(base, max, 2, float64(i)/100)
		assert.True(t, d > 2*time.Second && d <= 4*time.Second, "jittered wait %s out of range", d)
	}
}

func TestIngest_MergesAndAdvances(t *testing.T) {
	cfg := testConfig(t)
	tg := &fakeAdapter{platform: message.PlatformTelegram}
	tg.add(msg(message.PlatformTelegram, "1", 1000), msg(message.PlatformTelegram, "2", 2000))
	gw := newTestGateway(t, cfg, tg)
	in := gw.ingesters[0]
	ctx := context.Background()

	assert.Equal(t, cfg.Gateway.FetchInterval, in.step(ctx))
	assert.Equal(t, 2, gw.Store().Len())
	assert.Equal(t, int64(2000), in.cursor.SinceTimestampUTCMs)

	// Re-fetching adds nothing
	in.step(ctx)
	assert.Equal(t, 2, gw.Store().Len())

	tg.add(msg(message.PlatformTelegram, "3", 3000))
	in.step(ctx)
	assert.Equal(t, 3, gw.Store().Len())
}

func TestIngest_FullPageFetchesAgainImmediately(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.FetchMax = 2
	tg := &fakeAdapter{platform: message.PlatformTelegram}
	for i := 1; i <= 3; i++ {
		tg.add(msg(message.PlatformTelegram, fmt.Sprint(i), int64(i*1000)))
	}
	gw := newTestGateway(t, cfg, tg)
	in := gw.ingesters[0]

	assert.Zero(t, in.step(context.Background()))
	assert.Equal(t, cfg.Gateway.FetchInterval, in.step(context.Background()))
	assert.Equal(t, 3, gw.Store().Len())
}

func TestIngest_BackoffGrowsAndResets(t *testing.T) {
	cfg := testConfig(t)
	tg := &fakeAdapter{platform: message.PlatformTelegram}
	tg.setErr(adapter.Unavailable(message.PlatformTelegram, errors.New("429")))
	gw := newTestGateway(t, cfg, tg)
	in := gw.ingesters[0]
	ctx := context.Background()

	var waits []time.Duration
	for i := 0; i < 6; i++ {
		waits = append(waits, in.step(ctx))
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, waits)
	assert.True(t, in.BackingOff())

	h := gw.healthStatus()
	assert.Equal(t, gatewayrpc.StatusDegraded, h.Status)
	assert.Equal(t, []message.Platform{message.PlatformTelegram}, h.BackingOff)

	tg.setErr(nil)
	tg.add(msg(message.PlatformTelegram, "1", 1000))
	assert.Equal(t, cfg.Gateway.FetchInterval, in.step(ctx))
	assert.False(t, in.BackingOff())
	assert.Equal(t, gatewayrpc.StatusServing, gw.healthStatus().Status)

	// The next failure starts again from base
	tg.setErr(errors.New("boom"))
	assert.Equal(t, 100*time.Millisecond, in.step(ctx))
}

func TestIngest_BackoffIsolation(t *testing.T) {
	cfg := testConfig(t)
	tg := &fakeAdapter{platform: message.PlatformTelegram}
	tg.setErr(adapter.Unavailable(message.PlatformTelegram, errors.New("502")))
	dc := &fakeAdapter{platform: message.PlatformDiscord}
	dc.add(msg(message.PlatformDiscord, "10", 1000), msg(message.PlatformDiscord, "11", 2000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sleep returns immediately and stops everything once both adapters
	// have been fetched a few times.
	sleep := func(ctx context.Context, d time.Duration) error {
		if tg.callCount() >= 5 && dc.callCount() >= 5 {
			cancel()
		}
		runtime.Gosched()
		return ctx.Err()
	}

	gw, err := New(cfg, []adapter.Adapter{tg, dc}, testLogger(),
		WithSleep(sleep), WithJitter(func() float64 { return 0 }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	<-gw.startIngest(ctx)

	assert.Equal(t, 2, gw.Store().Len(), "discord keeps merging while telegram fails")
	assert.GreaterOrEqual(t, dc.callCount(), 5)
	assert.GreaterOrEqual(t, tg.callCount(), 5)

	for _, in := range gw.ingesters {
		switch in.platform {
		case message.PlatformTelegram:
			assert.True(t, in.BackingOff())
			assert.Greater(t, in.failures, 1)
		case message.PlatformDiscord:
			assert.False(t, in.BackingOff())
			assert.Zero(t, in.failures)
		}
	}
}

func TestIngest_CanceledFetchIsNotAFailure(t *testing.T) {
	cfg := testConfig(t)
	tg := &fakeAdapter{platform: message.PlatformTelegram}
	tg.setErr(context.Canceled)
	gw := newTestGateway(t, cfg, tg)
	in := gw.ingesters[0]

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Zero(t, in.step(ctx))
	assert.Zero(t, in.failures)
	assert.False(t, in.BackingOff())
}
