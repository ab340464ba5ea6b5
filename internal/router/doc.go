// Package router implements the Message Router component.
//
// The Message Router:
//   - Dispatches validated messages to handlers in priority order
//   - Runs a global middleware pipeline ahead of type-specific routes
//   - Distinguishes critical middleware failures (abort) from recoverable ones (log, continue)
//   - Defers delivery through a bounded priority queue with retry and fixed delay
//   - Emits message_routed / message_unrouted / message_failed / route_error events
//
// Synchronous routing and queue draining share one dispatch path, so
// ordering and validation semantics are identical for both.
package router
