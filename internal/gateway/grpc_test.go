package gateway

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/clawswarm/internal/adapter"
	"github.com/2389/clawswarm/internal/auth"
	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/message"
)

// serveBufconn serves gw's gRPC server in memory and returns a connection to it.
func serveBufconn(t *testing.T, gw *Gateway, opts ...grpc.DialOption) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gw.grpcServer.Serve(lis) }()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	}, opts...)
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func seedTimeline(gw *Gateway) {
	gw.Store().Append([]message.UnifiedMessage{
		msg(message.PlatformTelegram, "1", 1000),
		msg(message.PlatformDiscord, "2", 1000),
		msg(message.PlatformTelegram, "3", 2000),
		msg(message.PlatformWhatsApp, "4", 3000),
		msg(message.PlatformDiscord, "5", 4000),
	})
}

func ids(msgs []message.UnifiedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Key()
	}
	return out
}

func TestPollMessages_IdempotentRepoll(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	seedTimeline(gw)
	client := gatewayrpc.NewClient(serveBufconn(t, gw))
	ctx := testCtx(t)

	req := gatewayrpc.NewPollRequest(message.Cursor{SinceTimestampUTCMs: 1000, SeenIDs: []string{"telegram:1"}}, 2, "")
	first, err := client.PollMessages(ctx, req)
	require.NoError(t, err)
	second, err := client.PollMessages(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []string{"discord:2", "telegram:3"}, ids(first.Messages))
	assert.Equal(t, ids(first.Messages), ids(second.Messages))
	assert.Equal(t, first.NextCursor, second.NextCursor)
	assert.Equal(t, int64(2000), first.NextCursor.SinceTimestampUTCMs)
}

func TestPollMessages_PagesCoverTimelineOnce(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	seedTimeline(gw)
	client := gatewayrpc.NewClient(serveBufconn(t, gw))
	ctx := testCtx(t)

	var seen []string
	cursor := message.Cursor{}
	for i := 0; i < 10; i++ {
		resp, err := client.PollMessages(ctx, gatewayrpc.NewPollRequest(cursor, 2, ""))
		require.NoError(t, err)
		if len(resp.Messages) == 0 {
			break
		}
		seen = append(seen, ids(resp.Messages)...)
		assert.True(t, cursor.LessOrEqual(resp.NextCursor), "cursor must not move backwards")
		cursor = resp.NextCursor
	}
	assert.Equal(t, []string{"telegram:1", "discord:2", "telegram:3", "whatsapp:4", "discord:5"}, seen)
}

func TestPollMessages_PlatformFilter(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	seedTimeline(gw)
	client := gatewayrpc.NewClient(serveBufconn(t, gw))

	resp, err := client.PollMessages(testCtx(t), gatewayrpc.NewPollRequest(message.Cursor{}, 0, "", message.PlatformDiscord))
	require.NoError(t, err)
	assert.Equal(t, []string{"discord:2", "discord:5"}, ids(resp.Messages))
}

func TestPollMessages_InvalidRequest(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	client := gatewayrpc.NewClient(serveBufconn(t, gw))
	ctx := testCtx(t)

	_, err := client.PollMessages(ctx, gatewayrpc.NewPollRequest(message.Cursor{}, 0, "", message.Platform(99)))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.PollMessages(ctx, &gatewayrpc.PollMessagesRequest{MaxMessages: -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPollMessages_ConsumerCursorCollects(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	seedTimeline(gw)
	client := gatewayrpc.NewClient(serveBufconn(t, gw))
	ctx := testCtx(t)

	// Two consumers register at the start
	a, err := client.PollMessages(ctx, gatewayrpc.NewPollRequest(message.Cursor{}, 3, "agent-a"))
	require.NoError(t, err)
	_, err = client.PollMessages(ctx, gatewayrpc.NewPollRequest(message.Cursor{}, 3, "agent-b"))
	require.NoError(t, err)
	assert.Len(t, gw.Store().Consumers(), 2)

	// agent-a acknowledges three messages, agent-b has not moved
	_, err = client.PollMessages(ctx, gatewayrpc.NewPollRequest(a.NextCursor, 3, "agent-a"))
	require.NoError(t, err)
	assert.Equal(t, 5, gw.Store().Len(), "nothing is collected while agent-b lags")

	// Once agent-b passes them too they are collected
	_, err = client.PollMessages(ctx, gatewayrpc.NewPollRequest(a.NextCursor, 3, "agent-b"))
	require.NoError(t, err)
	assert.Equal(t, 2, gw.Store().Len())

	// A collected message fetched again by an adapter stays out
	added := gw.Store().Append([]message.UnifiedMessage{msg(message.PlatformTelegram, "1", 1000)})
	assert.Empty(t, added)
}

func TestPollMessages_ConsumerMustMatchToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "test-secret-that-is-long-enough"
	gw := newTestGateway(t, cfg)
	seedTimeline(gw)

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate("agent-a", time.Hour)
	require.NoError(t, err)

	conn := serveBufconn(t, gw, grpc.WithPerRPCCredentials(auth.BearerToken{Token: token}))
	client := gatewayrpc.NewClient(conn)
	ctx := testCtx(t)

	_, err = client.PollMessages(ctx, gatewayrpc.NewPollRequest(message.Cursor{}, 1, "agent-a"))
	require.NoError(t, err)

	_, err = client.PollMessages(ctx, gatewayrpc.NewPollRequest(message.Cursor{}, 1, "agent-b"))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	anonConn := serveBufconn(t, gw)
	anon := gatewayrpc.NewClient(anonConn)
	_, err = anon.PollMessages(ctx, gatewayrpc.NewPollRequest(message.Cursor{}, 1, ""))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	// Health checks stay open
	resp, err := healthpb.NewHealthClient(anonConn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestStreamMessages_LateSubscriber(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	seedTimeline(gw)
	client := gatewayrpc.NewClient(serveBufconn(t, gw))

	ctx, cancel := context.WithCancel(testCtx(t))
	defer cancel()

	req := &gatewayrpc.StreamMessagesRequest{SinceTimestampUTCMs: 2000, SeenIDs: []string{"telegram:3"}}
	stream, err := client.StreamMessages(ctx, req)
	require.NoError(t, err)

	recv := func() *gatewayrpc.StreamMessage {
		t.Helper()
		m, err := stream.Recv()
		require.NoError(t, err)
		return m
	}

	// Backlog after the cursor
	assert.Equal(t, "whatsapp:4", recv().Message.Key())
	last := recv()
	assert.Equal(t, "discord:5", last.Message.Key())
	assert.Equal(t, int64(4000), last.Cursor.SinceTimestampUTCMs)

	// A late message older than the cursor and a new one
	gw.Store().Append([]message.UnifiedMessage{
		msg(message.PlatformTelegram, "old", 1500),
		msg(message.PlatformTelegram, "6", 5000),
	})
	next := recv()
	assert.Equal(t, "telegram:6", next.Message.Key())
	assert.Equal(t, int64(5000), next.Cursor.SinceTimestampUTCMs)

	gw.Store().Append([]message.UnifiedMessage{msg(message.PlatformDiscord, "7", 5000)})
	tie := recv()
	assert.Equal(t, "discord:7", tie.Message.Key())
	assert.ElementsMatch(t, []string{"telegram:6", "discord:7"}, tie.Cursor.SeenIDs)

	cancel()
	_, err = stream.Recv()
	assert.Error(t, err)
}

func TestStreamMessages_EndsOnShutdown(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	client := gatewayrpc.NewClient(serveBufconn(t, gw))

	stream, err := client.StreamMessages(testCtx(t), &gatewayrpc.StreamMessagesRequest{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errCh <- err
	}()

	// A stream subscribing after Close gets a closed channel, so the order
	// of subscribe and close does not matter here.
	time.Sleep(50 * time.Millisecond)
	gw.Store().Close()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the store closed")
	}
}

func TestHealth_ReportsBackingOffPlatforms(t *testing.T) {
	tg := &fakeAdapter{platform: message.PlatformTelegram}
	tg.setErr(adapter.Unavailable(message.PlatformTelegram, errors.New("503")))
	dc := &fakeAdapter{platform: message.PlatformDiscord}
	gw := newTestGateway(t, testConfig(t), tg, dc)
	conn := serveBufconn(t, gw)
	client := gatewayrpc.NewClient(conn)
	health := healthpb.NewHealthClient(conn)
	ctx := testCtx(t)

	resp, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, gatewayrpc.StatusServing, resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, []message.Platform{message.PlatformTelegram, message.PlatformDiscord}, resp.EnabledPlatforms)

	for _, in := range gw.ingesters {
		in.step(ctx)
	}

	resp, err = client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, gatewayrpc.StatusDegraded, resp.Status)
	assert.Equal(t, []message.Platform{message.PlatformTelegram}, resp.BackingOff)

	check := func(p message.Platform) healthpb.HealthCheckResponse_ServingStatus {
		r, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: PlatformServiceName(p)})
		require.NoError(t, err)
		return r.Status
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(message.PlatformTelegram))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(message.PlatformDiscord))
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.InvalidArgument, status.Code(toStatus(errInvalidRequest)))
	assert.Equal(t, codes.PermissionDenied, status.Code(toStatus(errConsumerMismatch)))
	assert.Equal(t, codes.Canceled, status.Code(toStatus(context.Canceled)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("boom"))))
	assert.Equal(t, codes.NotFound, status.Code(toStatus(status.Error(codes.NotFound, "x"))))
}
