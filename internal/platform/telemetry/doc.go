// Package telemetry provides operational observability for the session core.
//
// Telemetry events capture non-mutating system observations: readiness
// transitions, submissions, retry outcomes. They are distinct from the
// replicated session state, which is the canonical source of truth for
// gameplay and lives on the realtime service.
//
// The emitter is nil-safe so call sites never need to guard on configuration:
// an unconfigured emitter silently drops events.
package telemetry
