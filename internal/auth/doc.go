// Package auth authenticates gateway consumers.
//
// Consumers (agent runners and API clients) present an HS256 JWT whose
// subject is their consumer id. Tokens are minted with `clawswarm token`
// using the configured auth.jwt_secret.
//
// # gRPC
//
// UnaryInterceptor and StreamInterceptor read the "authorization" metadata
// ("Bearer <jwt>") and store the consumer id in the context. The standard
// health service is exempt. Clients attach tokens with BearerToken.
//
// # HTTP
//
// HTTPMiddleware protects the JSON mirror under /api. It also accepts an
// access_token query parameter for websocket upgrades.
//
// When no secret is configured the gateway runs without these layers and
// logs a warning at startup.
package auth
