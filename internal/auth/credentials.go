package auth

import (
	"context"

	"google.golang.org/grpc/credentials"
)

// BearerToken attaches a JWT to every outgoing RPC.
type BearerToken struct {
	Token string
	// Secure requires a TLS transport before the token is sent.
	Secure bool
}

var _ credentials.PerRPCCredentials = BearerToken{}

func (b BearerToken) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.Token}, nil
}

func (b BearerToken) RequireTransportSecurity() bool {
	return b.Secure
}
