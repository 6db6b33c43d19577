package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/lenslabs/chordfield/internal/storage"
)

// Emitter appends telemetry events to a store, stamping missing timestamps
// from an injected clock. A nil emitter or nil store is a no-op.
type Emitter struct {
	store storage.TelemetryStore
	clock func() time.Time
}

// NewEmitter creates an emitter backed by the provided store. The store may
// be nil, in which case all emits are dropped.
func NewEmitter(store storage.TelemetryStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit appends a telemetry event, setting the timestamp when unset.
func (e *Emitter) Emit(ctx context.Context, evt storage.TelemetryEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		clock := e.clock
		if clock == nil {
			clock = time.Now
		}
		evt.Timestamp = clock()
	}
	if err := e.store.AppendTelemetryEvent(ctx, evt); err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}
