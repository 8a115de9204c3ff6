// ABOUTME: HTTP middleware for JWT authentication on the JSON API mirror
// ABOUTME: Accepts the Authorization header or an access_token query parameter for websockets

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPMiddleware rejects requests without a valid bearer token. Browsers
// cannot set headers on websocket upgrades, so access_token is also accepted.
func HTTPMiddleware(tokens TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, reason := extractBearerToken(r.Header.Get("Authorization"))
			if reason != "" {
				if q := r.URL.Query().Get("access_token"); q != "" {
					token, reason = q, ""
				}
			}
			if reason != "" {
				logger.Warn("auth failure", "reason", reason, "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, reason, http.StatusUnauthorized)
				return
			}
			consumerID, err := tokens.Verify(token)
			if err != nil {
				logger.Warn("auth failure", "reason", err.Error(), "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithConsumer(r.Context(), consumerID)))
		})
	}
}
