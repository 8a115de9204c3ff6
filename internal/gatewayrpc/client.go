// ABOUTME: Client for the MessagingGateway service
// ABOUTME: Maps transport failures to ErrUnavailable so callers can skip a tick

package gatewayrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/clawswarm/internal/auth"
)

// ErrUnavailable marks a gateway that could not be reached or is overloaded.
var ErrUnavailable = errors.New("gateway unavailable")

// DialConfig controls how the client connects.
type DialConfig struct {
	Addr  string
	Token string
	TLS   bool
}

// Client calls the gateway.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to the gateway. The connection is lazy; errors surface on the first call.
func Dial(cfg DialConfig, extra ...grpc.DialOption) (*Client, error) {
	creds := insecure.NewCredentials()
	if cfg.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Codec)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(auth.BearerToken{Token: cfg.Token, Secure: cfg.TLS}))
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gateway client: %w", err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close releases the connection when the client owns it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// PollMessages fetches the window after the request cursor.
func (c *Client) PollMessages(ctx context.Context, req *PollMessagesRequest) (*PollMessagesResponse, error) {
	out := new(PollMessagesResponse)
	if err := c.cc.Invoke(ctx, MethodPollMessages, req, out, grpc.CallContentSubtype(Codec)); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Health returns gateway status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.cc.Invoke(ctx, MethodHealth, &emptypb.Empty{}, out, grpc.CallContentSubtype(Codec)); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// MessageReceiver yields streamed messages until the stream ends.
type MessageReceiver interface {
	Recv() (*StreamMessage, error)
}

type streamReceiver struct {
	stream grpc.ClientStream
}

func (r *streamReceiver) Recv() (*StreamMessage, error) {
	m := new(StreamMessage)
	if err := r.stream.RecvMsg(m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, classify(err)
	}
	return m, nil
}

// StreamMessages opens a live feed. Cancel ctx to close it.
func (c *Client) StreamMessages(ctx context.Context, req *StreamMessagesRequest) (MessageReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodStreamMessages, grpc.CallContentSubtype(Codec))
	if err != nil {
		return nil, classify(err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, classify(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, classify(err)
	}
	return &streamReceiver{stream: stream}, nil
}

func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
