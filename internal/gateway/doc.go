// Package gateway orchestrates the coven-bridge server components.
//
// # Overview
//
// The gateway owns every long-lived piece of the bridge: the call ledger,
// the service gate, the streaming bridge, the dispatcher, the link to the
// background service, and the gRPC and HTTP servers.
//
//	caller ──gRPC──▶ BridgeServer ──▶ Dispatcher ──▶ Gate ──▶ RemoteService ──gRPC──▶ service
//	                     ▲                 │
//	                     └──── Listen ◀── Bridge (subscription registry)
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - 200 while the background service is connected
//   - GET /api/calls?limit=N - Recent call ledger entries as JSON
//   - GET /metrics - Prometheus metrics (path configurable, optional)
//
// # gRPC
//
// The caller-facing coven.bridge.v1.Bridge service and the standard gRPC
// health service are served on server.grpc_addr. The health status of the
// Bridge service follows the gate: SERVING while a service is connected.
//
// # Authentication
//
// When auth.jwt_secret is set, gRPC calls (except health) and /api routes
// require an HS256 bearer token. Otherwise callers are anonymous.
//
// # Lifecycle
//
// Run listens, starts both servers and the service link, and blocks until
// the context is cancelled or a server fails. Shutdown stops accepting
// calls, cancels background stream executions, closes every open
// subscription and closes the store.
package gateway
