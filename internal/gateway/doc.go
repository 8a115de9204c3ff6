// Package gateway runs the clawswarm messaging gateway.
//
// # Overview
//
// The gateway owns one ingest loop per enabled platform adapter. Each loop
// fetches messages after its own cursor and merges them into the unified
// message store (internal/msgstore). Agents read the merged timeline through
// the MessagingGateway gRPC service or its JSON HTTP mirror.
//
// # Ingest
//
// Every adapter moves through Idle → Fetching → (Merged | BackoffWait). A
// failed fetch waits min(base·2^n, max) with jitter, where n counts
// consecutive failures for that adapter only. A successful fetch resets n.
// While any adapter waits, Health reports DEGRADED and the adapter's
// grpc.health.v1 service (see PlatformServiceName) reports NOT_SERVING.
//
// Adapters that also implement Run (Matrix sync) get a goroutine for it.
// Adapters that implement Push (WhatsApp) are fed from the embedded NATS bus:
// the webhook handler publishes on bus.SubjectInbound and the bridge pushes
// each delivery into the adapter once.
//
// # gRPC API
//
//   - PollMessages returns up to max_messages admitted messages and the next
//     cursor. With consumer_id, the request cursor is recorded as that
//     consumer's acknowledgement so the store can collect passed messages.
//   - StreamMessages sends the backlog after the cursor, then every newly
//     merged message, until the client cancels.
//   - Health returns status, version, enabled platforms, and the platforms
//     currently backing off.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - 200 when at least one platform is enabled and none backs off
//   - GET /metrics - Prometheus metrics (when metrics.enabled)
//   - GET/POST /webhooks/whatsapp - Meta verification and deliveries (rate limited)
//   - GET/POST /api/messages - JSON poll mirror
//   - GET /api/stream - websocket stream mirror
//   - GET /api/health - JSON health
//
// The /api routes and the gRPC service require a bearer JWT when
// auth.jwt_secret is set. Health checks are always open.
//
// # Listeners
//
// The gateway listens on server.grpc_addr and server.http_addr, optionally
// with TLS from server.tls_cert_file and server.tls_key_file. With
// tailscale.enabled it joins the tailnet through tsnet instead and serves
// gRPC on :50051 and HTTP on :80, :443 (https), or a public funnel.
package gateway
