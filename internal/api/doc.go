// Package api implements the HTTP REST API and WebSocket server for Gray Logic Vision.
//
// This package provides:
//   - REST endpoints for cameras, hand-eye calibration sessions, infield
//     correction sessions and projector test patterns
//   - WebSocket hub broadcasting session and camera events
//   - Optional JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, metrics, recovery, CORS)
//   - Prometheus metrics at /metrics
//
// # Errors
//
// Domain errors are mapped onto HTTP status codes in one place
// (writeDomainError). Every error body has the shape
// {"status": int, "code": string, "message": string}.
//
// # Hardware access
//
// Handlers never touch a camera directly. They call the camera service and
// the session managers, which take the hardware lock for each device
// interaction. A request that cannot obtain the lock in time gets 503.
package api
