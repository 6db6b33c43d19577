package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// TelemetryEvent captures operational observations emitted during the session
// lifecycle: readiness transitions, submissions, retry outcomes.
type TelemetryEvent struct {
	Timestamp    time.Time
	EventName    string
	Severity     string
	SessionID    string
	ConnectionID string
	Attributes   map[string]any
}

// TelemetryStore persists operational telemetry records for audits and
// incident analysis.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
	// ListTelemetryEvents returns events for a session in append order.
	ListTelemetryEvents(ctx context.Context, sessionID string) ([]TelemetryEvent, error)
}
