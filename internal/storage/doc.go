// Package storage defines the persistence interfaces for the ChordField
// session core.
//
// Session state itself is transient and lives on the replicated-register
// service; the only durable records are operational telemetry events kept
// for audits and incident analysis. Implementations of these interfaces
// (e.g., using bbolt) can be found in subpackages.
//
// # Error Types
//
//   - ErrNotFound: Indicates a requested record is missing.
package storage
