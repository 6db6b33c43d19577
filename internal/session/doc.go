// Package session serves as an umbrella for multiplayer session management:
// establishing a session, tracking membership, and replicating each
// participant's chord progression into shared state.
//
// The package is organized into subpackages:
//   - domain: Session lifecycle types (flow flags, phase, store metadata).
//   - registry: De-duplicated view of connected users and shared stores.
//   - controller: The readiness gate that decides when the session is usable.
//   - autostart: Automatic session start with retry and backoff.
//   - statesync: The replicated submission protocol and completion detection.
package session
