// ABOUTME: Authenticated consumer identity carried through request contexts
// ABOUTME: Set by the gRPC interceptors and the HTTP middleware

package auth

import "context"

type consumerKey struct{}

// WithConsumer returns a context carrying the authenticated consumer id.
func WithConsumer(ctx context.Context, consumerID string) context.Context {
	return context.WithValue(ctx, consumerKey{}, consumerID)
}

// ConsumerFromContext returns the authenticated consumer id, if any.
func ConsumerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(consumerKey{}).(string)
	return id, ok && id != ""
}
