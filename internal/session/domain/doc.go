// Package domain defines the entities and lifecycle state for multiplayer
// lens sessions.
//
// # Session Lifecycle
//
// A session advances through readiness states gated on asynchronous
// preconditions (connection, shared stores, colocation), then through two
// replicated phases:
//   - Collecting: participants are still building and submitting
//     progressions.
//   - Display: every participant has submitted and the combined result is
//     shown. The phase is monotonic; it never reverts to Collecting.
package domain
