// ABOUTME: MessagingGateway gRPC service: cursor polls, live streams, and health
// ABOUTME: Poll and stream logic is shared with the HTTP JSON mirror

package gateway

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/clawswarm/internal/auth"
	"github.com/2389/clawswarm/internal/gatewayrpc"
	"github.com/2389/clawswarm/internal/message"
	"github.com/2389/clawswarm/internal/metrics"
)

// Request errors, mapped to gRPC codes and HTTP statuses at the boundary.
var (
	errInvalidRequest   = errors.New("invalid request")
	errConsumerMismatch = errors.New("consumer_id does not match token")
)

var _ gatewayrpc.MessagingGatewayServer = (*Gateway)(nil)

// PollMessages returns the next page after the request cursor.
func (g *Gateway) PollMessages(ctx context.Context, req *gatewayrpc.PollMessagesRequest) (*gatewayrpc.PollMessagesResponse, error) {
	resp, err := g.poll(ctx, req, "grpc")
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// StreamMessages sends the backlog after the request cursor, then every newly
// admitted message, until the client goes away.
func (g *Gateway) StreamMessages(req *gatewayrpc.StreamMessagesRequest, stream gatewayrpc.MessageStream) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "empty request")
	}
	err := g.stream(stream.Context(), req.Platforms, req.Cursor(), stream.Send)
	if err != nil {
		return toStatus(err)
	}
	return nil
}

// Health reports SERVING, or DEGRADED while an enabled platform backs off.
func (g *Gateway) Health(_ context.Context, _ *emptypb.Empty) (*gatewayrpc.HealthResponse, error) {
	return g.healthStatus(), nil
}

func (g *Gateway) healthStatus() *gatewayrpc.HealthResponse {
	resp := &gatewayrpc.HealthResponse{
		Status:           gatewayrpc.StatusServing,
		Version:          g.version,
		EnabledPlatforms: make([]message.Platform, 0, len(g.ingesters)),
	}
	for _, in := range g.ingesters {
		resp.EnabledPlatforms = append(resp.EnabledPlatforms, in.platform)
		if in.BackingOff() {
			resp.BackingOff = append(resp.BackingOff, in.platform)
		}
	}
	if len(resp.BackingOff) > 0 {
		resp.Status = gatewayrpc.StatusDegraded
	}
	return resp
}

// poll serves one page. With a consumer id the request cursor is also taken
// as that consumer's acknowledgement, which lets the store collect.
func (g *Gateway) poll(ctx context.Context, req *gatewayrpc.PollMessagesRequest, transport string) (*gatewayrpc.PollMessagesResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", errInvalidRequest)
	}
	if req.MaxMessages < 0 {
		return nil, fmt.Errorf("%w: max_messages must not be negative", errInvalidRequest)
	}
	platforms, err := platformSet(req.Platforms)
	if err != nil {
		return nil, err
	}
	if err := checkConsumer(ctx, req.ConsumerID); err != nil {
		return nil, err
	}

	metrics.Polls.WithLabelValues(transport).Inc()
	cursor := req.Cursor()
	msgs, next := g.store.Window(platforms, cursor, req.Limit())

	if req.ConsumerID != "" {
		if n := g.store.UpdateConsumer(req.ConsumerID, cursor); n > 0 {
			metrics.MessagesCollected.WithLabelValues("consumed").Add(float64(n))
			metrics.StoredMessages.Set(float64(g.store.Len()))
		}
	}
	return &gatewayrpc.PollMessagesResponse{Messages: msgs, NextCursor: next}, nil
}

// stream pushes every message after cursor through send until ctx is done or
// the store closes. Each message carries the cursor just past it.
func (g *Gateway) stream(ctx context.Context, requested []message.Platform, cursor message.Cursor, send func(*gatewayrpc.StreamMessage) error) error {
	platforms, err := platformSet(requested)
	if err != nil {
		return err
	}

	// Subscribe before reading the backlog so nothing appended in between is missed.
	wake := g.store.Subscribe(ctx)
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	for {
		for {
			msgs, _ := g.store.Window(platforms, cursor, gatewayrpc.MaxMaxMessages)
			for _, m := range msgs {
				cursor = cursor.Advance(m)
				if err := send(&gatewayrpc.StreamMessage{Message: m, Cursor: cursor}); err != nil {
					return err
				}
			}
			if len(msgs) < gatewayrpc.MaxMaxMessages {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-wake:
			if !ok {
				return nil
			}
		}
	}
}

// platformSet validates a platform filter. Unspecified entries are ignored.
func platformSet(platforms []message.Platform) (message.PlatformSet, error) {
	for _, p := range platforms {
		if p == message.PlatformUnspecified {
			continue
		}
		if _, err := message.ParsePlatform(p.String()); err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidRequest, err)
		}
	}
	return message.NewPlatformSet(platforms...), nil
}

// checkConsumer rejects acknowledging a cursor for a consumer other than the
// authenticated one. Without auth any consumer id is accepted.
func checkConsumer(ctx context.Context, consumerID string) error {
	if consumerID == "" {
		return nil
	}
	if authed, ok := auth.ConsumerFromContext(ctx); ok && authed != consumerID {
		return fmt.Errorf("%w: token is for %q", errConsumerMismatch, authed)
	}
	return nil
}

// toStatus maps request errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, errInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errConsumerMismatch):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Errorf(codes.Internal, "%v", err)
	}
}
