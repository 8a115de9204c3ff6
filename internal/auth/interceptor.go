// ABOUTME: gRPC interceptors that authenticate consumers with bearer JWTs
// ABOUTME: Health checks stay open so load balancers can probe without a token

package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// openMethodPrefixes are reachable without a token.
var openMethodPrefixes = []string{
	"/grpc.health.v1.Health/",
}

func isOpen(method string) bool {
	for _, p := range openMethodPrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(ctx context.Context, logger *slog.Logger, method, reason string) {
	attrs := []any{"reason", reason, "method", method}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", attrs...)
}

func authenticate(ctx context.Context, method string, tokens TokenVerifier, logger *slog.Logger) (context.Context, error) {
	if isOpen(method) {
		return ctx, nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(ctx, logger, method, "missing metadata")
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		logAuthFailure(ctx, logger, method, "missing authorization")
		return nil, status.Error(codes.Unauthenticated, "missing authorization")
	}
	token, reason := extractBearerToken(values[0])
	if reason != "" {
		logAuthFailure(ctx, logger, method, reason)
		return nil, status.Error(codes.Unauthenticated, reason)
	}
	consumerID, err := tokens.Verify(token)
	if err != nil {
		logAuthFailure(ctx, logger, method, err.Error())
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return WithConsumer(ctx, consumerID), nil
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
func UnaryInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		authed, err := authenticate(ctx, info.FullMethod, tokens, logger)
		if err != nil {
			return nil, err
		}
		return handler(authed, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
func StreamInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		authed, err := authenticate(ss.Context(), info.FullMethod, tokens, logger)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: authed})
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
