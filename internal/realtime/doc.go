// Package realtime defines the dependency contract for the managed
// replicated-session platform.
//
// The platform itself is external: it owns session creation, shared store
// replication, and event delivery. This package only names the surface the
// session core consumes, so the core can run against the production service,
// the in-memory fake in [realtimetest], or the websocket adapter in
// [wsbridge].
//
// # Ordering
//
// Guarantees are deliberately weak, matching the service: replicated
// registers are last-write-wins per key with no cross-key atomicity, and a
// register change and a broadcast event may be observed in either order.
// Consumers re-evaluate on every signal instead of assuming arrival order.
//
// # Delivery
//
// All Handler callbacks for one connection are invoked sequentially from a
// single delivery context. Implementations must not invoke two callbacks of
// the same handler concurrently.
package realtime
