// ABOUTME: Hand-written gRPC service descriptor for MessagingGateway
// ABOUTME: Unary PollMessages and Health, server-streaming StreamMessages

package gatewayrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clawswarm.gateway.v1.MessagingGateway"

// Full method names.
const (
	MethodPollMessages   = "/" + ServiceName + "/PollMessages"
	MethodStreamMessages = "/" + ServiceName + "/StreamMessages"
	MethodHealth         = "/" + ServiceName + "/Health"
)

// MessagingGatewayServer is implemented by the gateway.
type MessagingGatewayServer interface {
	PollMessages(context.Context, *PollMessagesRequest) (*PollMessagesResponse, error)
	StreamMessages(*StreamMessagesRequest, MessageStream) error
	Health(context.Context, *emptypb.Empty) (*HealthResponse, error)
}

// MessageStream is the server side of StreamMessages.
type MessageStream interface {
	Send(*StreamMessage) error
	Context() context.Context
}

// RegisterMessagingGatewayServer registers srv on s.
func RegisterMessagingGatewayServer(s grpc.ServiceRegistrar, srv MessagingGatewayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the MessagingGateway service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PollMessages", Handler: pollMessagesHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamMessages", Handler: streamMessagesHandler, ServerStreams: true},
	},
	Metadata: "clawswarm/gateway/v1",
}

func pollMessagesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PollMessagesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MessagingGatewayServer).PollMessages(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPollMessages}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MessagingGatewayServer).PollMessages(ctx, req.(*PollMessagesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MessagingGatewayServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodHealth}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MessagingGatewayServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamMessagesHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamMessagesRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MessagingGatewayServer).StreamMessages(in, &messageStream{stream})
}

type messageStream struct {
	grpc.ServerStream
}

func (s *messageStream) Send(m *StreamMessage) error {
	return s.ServerStream.SendMsg(m)
}
