// Package api implements the operator-facing HTTP API of the door-lock gateway.
//
// This package provides:
//   - Command dispatch to connected locks (POST /devices/{id}/commands)
//   - Connection status and in-flight command inspection
//   - Lock provisioning, token rotation and ownership
//   - Operator accounts, JWT login and ticket-based dashboard WebSocket auth
//   - Audit trail queries and system metrics
//
// # Architecture
//
// The API sits in front of the dispatch manager. Requests are authenticated
// with a JWT and authorised by role; lock owners (role "user") see and
// operate only their own locks. The device channel WebSocket is mounted on
// the same listener but authenticates locks by device token instead.
//
// # Error mapping
//
// Dispatch errors map onto HTTP status codes: an unknown command type is
// 400, a lock with no live transport is 409, and a transport send failure
// is 502. Every error body has the shape {"status", "code", "message"}.
package api
