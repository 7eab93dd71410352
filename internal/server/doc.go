// Package server exposes a small read-only HTTP API while lumarr runs in follow mode.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [MuxRouter] implementation uses gorilla/mux internally, so routes are matched on method and path.
//
// # Endpoints
//
//	GET /health       → {"status": "ok"}
//	GET /api/status   → orchestrator state, last pass summary and ledger counts
//	GET /api/history  → ledger records, filtered by limit, status, target and source
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface and return their own [Route] list,
// which keeps route definitions next to the handler methods.
package server
