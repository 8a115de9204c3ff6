// ABOUTME: Tests for the Gateway lifecycle and shared test helpers
// ABOUTME: Runs real listeners and dials the gateway with the gatewayrpc client

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/bus"
	"github.com/2389/clawswarm/internal/config"
	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/message"
)

// testConfig creates a config with defaults applied and available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("config.FromEnv() failed: %v", err)
	}

	grpcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available gRPC port: %v", err)
	}
	cfg.Server.GRPCAddr = grpcListener.Addr().String()
	grpcListener.Close()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	cfg.Server.HTTPAddr = httpListener.Addr().String()
	httpListener.Close()

	cfg.Server.TLSCertFile = ""
	cfg.Server.TLSKeyFile = ""
	cfg.Auth.JWTSecret = ""
	cfg.Tailscale.Enabled = false
	cfg.Bus = config.BusConfig{Host: "127.0.0.1", Port: bus.RandomPort}
	cfg.Gateway.BackoffBase = 100 * time.Millisecond
	cfg.Gateway.BackoffMax = time.Second
	cfg.Gateway.FetchInterval = 10 * time.Millisecond
	cfg.Gateway.FetchMax = 100
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway builds a gateway with no jitter and registers its shutdown.
func newTestGateway(t *testing.T, cfg *config.Config, adapters ...adapter.Adapter) *Gateway {
	t.Helper()
	gw, err := New(cfg, adapters, testLogger(), WithVersion("test"), WithJitter(func() float64 { return 0 }))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func msg(p message.Platform, id string, ts int64) message.UnifiedMessage {
	return message.UnifiedMessage{
		ID:             id,
		Platform:       p,
		ChannelID:      "chan-" + p.String(),
		SenderID:       "user",
		Text:           "text " + id,
		TimestampUTCMs: ts,
	}
}

// fakeAdapter serves a fixed message list, or fails with err when set.
type fakeAdapter struct {
	platform message.Platform

	mu    sync.Mutex
	msgs  []message.UnifiedMessage
	err   error
	calls int
}

func (f *fakeAdapter) Platform() message.Platform { return f.platform }

func (f *fakeAdapter) Enabled() bool { return true }

func (f *fakeAdapter) FetchSince(_ context.Context, since message.Cursor, max int) ([]message.UnifiedMessage, message.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, since, f.err
	}
	msgs, next := adapter.FilterSince(f.msgs, since, max)
	return msgs, next, nil
}

func (f *fakeAdapter) add(msgs ...message.UnifiedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
}

func (f *fakeAdapter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type disabledAdapter struct{ fakeAdapter }

func (d *disabledAdapter) Enabled() bool { return false }

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)
	tg := &fakeAdapter{platform: message.PlatformTelegram}
	dc := &disabledAdapter{fakeAdapter{platform: message.PlatformDiscord}}

	gw := newTestGateway(t, cfg, tg, dc)

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if len(gw.ingesters) != 1 || gw.ingesters[0].platform != message.PlatformTelegram {
		t.Errorf("expected one telegram ingester, got %d", len(gw.ingesters))
	}
	if gw.bus != nil {
		t.Error("bus should not start without push-fed adapters")
	}

	h := gw.healthStatus()
	if h.Status != gatewayrpc.StatusServing || h.Version != "test" {
		t.Errorf("unexpected health: %+v", h)
	}
	if len(h.EnabledPlatforms) != 1 || h.EnabledPlatforms[0] != message.PlatformTelegram {
		t.Errorf("enabled platforms: got %v", h.EnabledPlatforms)
	}
}

func TestGatewayNew_BadTLS(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TLSCertFile = "/nonexistent/cert.pem"
	cfg.Server.TLSKeyFile = "/nonexistent/key.pem"

	if _, err := New(cfg, nil, testLogger()); err == nil {
		t.Error("expected error for missing TLS files")
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	tg := &fakeAdapter{platform: message.PlatformTelegram}
	tg.add(msg(message.PlatformTelegram, "1", 1000), msg(message.PlatformTelegram, "2", 2000))

	gw := newTestGateway(t, cfg, tg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	// Wait for ingest to merge both messages
	deadline := time.Now().Add(5 * time.Second)
	for gw.Store().Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("ingest did not merge messages, store has %d", gw.Store().Len())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Health endpoint over the real HTTP listener
	waitForHTTP(t, "http://"+cfg.Server.HTTPAddr+"/health")

	client, err := gatewayrpc.Dial(gatewayrpc.DialConfig{Addr: cfg.Server.GRPCAddr})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	rpcCtx, rpcCancel := context.WithTimeout(ctx, 5*time.Second)
	defer rpcCancel()
	resp, err := client.PollMessages(rpcCtx, gatewayrpc.NewPollRequest(message.Cursor{}, 10, ""))
	if err != nil {
		t.Fatalf("PollMessages failed: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].ID != "1" || resp.Messages[1].ID != "2" {
		t.Errorf("unexpected poll result: %+v", resp.Messages)
	}

	// Shutdown via context cancel
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}

	// Shutdown is idempotent
	if err := gw.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown returned %v", err)
	}
}

func TestGatewayRun_ListenError(t *testing.T) {
	cfg := testConfig(t)
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()
	cfg.Server.GRPCAddr = taken.Addr().String()

	gw := newTestGateway(t, cfg)
	if err := gw.Run(context.Background()); err == nil {
		t.Error("expected error when the gRPC address is taken")
	}
}

func waitForHTTP(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s not ready: %v", url, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	got, err := resolveTailscaleStateDir("/custom/dir")
	if err != nil || got != "/custom/dir" {
		t.Errorf("configured dir: got %q, %v", got, err)
	}

	t.Setenv("HOME", "/home/tester")
	got, err = resolveTailscaleStateDir("")
	if err != nil {
		t.Fatalf("default dir: %v", err)
	}
	if got != "/home/tester/.local/share/clawswarm/tailscale" {
		t.Errorf("default dir: got %q", got)
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	if _, err := resolveTailscaleAuthKey(""); err == nil {
		t.Error("expected error without any auth key")
	}

	t.Setenv("TS_AUTHKEY", "tskey-env")
	if got, _ := resolveTailscaleAuthKey(""); got != "tskey-env" {
		t.Errorf("env key: got %q", got)
	}
	if got, _ := resolveTailscaleAuthKey("tskey-config"); got != "tskey-config" {
		t.Errorf("config key should win: got %q", got)
	}
}
