// Package routing decides, per message, which output queues of a route receive a copy.
//
// # Selection
//
// Every output queue has a behavior class:
//
//   - MATCH outputs receive the message when their matcher selects it
//   - REMAINDER outputs receive the message when no MATCH output matched
//   - ALL outputs always receive the message
//
// A MATCH output that did not match is never used as a fallback. A body that cannot
// be parsed in the route's format matches nothing, so it falls through to the
// REMAINDER outputs instead of being dropped.
//
// # Diagnostics
//
// Each route may name log fields whose values are extracted from every message and
// attached to the routing log lines. When the body cannot be parsed, or an extractor
// fails, the value is the literal "missing". Log fields never influence selection.
//
// # Concurrency
//
// An Engine holds compiled expressions that keep evaluation state, so it must not be
// shared between goroutines. Each route worker builds its own Engine from the route.
package routing
