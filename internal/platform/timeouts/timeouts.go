// Package timeouts defines shared duration constants used across the session
// core. Centralizing these values prevents drift between components and makes
// the durations discoverable.
package timeouts

import "time"

// StoreSettle is how long the readiness gate waits for a peer-created shared
// store to appear before creating the store locally.
const StoreSettle = 100 * time.Millisecond

// ReadyDelay is the stabilization delay inserted before the ready signal
// fires. It lets the camera pose settle; it is cosmetic, not a correctness
// requirement.
const ReadyDelay = 230 * time.Millisecond

// ConnectivityProbe is the fixed interval between local connectivity checks
// while waiting for internet access. Probes do not count against the retry
// budget.
const ConnectivityProbe = 500 * time.Millisecond

// RetryInitial is the first delay of the connection retry backoff.
const RetryInitial = 5 * time.Second

// RetryMax caps the connection retry backoff delay.
const RetryMax = 30 * time.Second

// RetryMultiplier grows the connection retry delay between attempts.
const RetryMultiplier = 2.0

// RetryMaxAttempts bounds how many failed connection attempts are retried
// before the controller surfaces a terminal connection error.
const RetryMaxAttempts = 5
