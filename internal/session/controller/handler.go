package controller

import (
	"context"

	"github.com/lenslabs/chordfield/internal/realtime"
	"github.com/lenslabs/chordfield/internal/session/domain"
	"github.com/lenslabs/chordfield/internal/storage"
)

// The controller is the connection's realtime.Handler. Callbacks arrive
// sequentially from the platform's delivery context; each updates the
// registry or flow flags, then re-enters the gate.

// OnConnected implements realtime.Handler.
func (c *Controller) OnConnected() {
	c.mu.Lock()
	c.flow.Connected = true
	c.mu.Unlock()
	c.checkIfReady()
}

// OnDisconnected implements realtime.Handler. A disconnect is the hard
// reconnect path: every flow flag resets and setup runs again on the next
// successful Start. The ready latch is deliberately not reset, so readiness
// never fires twice for one session.
func (c *Controller) OnDisconnected(reason string) {
	c.mu.Lock()
	c.flow.Reset()
	c.conn = nil
	if c.state != StateReady {
		c.state = StateNotInitialized
	}
	onDisconnect := c.cfg.OnDisconnect
	c.mu.Unlock()

	c.logger.Printf("session %s disconnected: %s", c.cfg.SessionID, reason)
	if onDisconnect != nil {
		onDisconnect(reason)
	}
}

// OnUserJoined implements realtime.Handler. The registry's new-connection
// check suppresses duplicate join deliveries.
func (c *Controller) OnUserJoined(info realtime.UserInfo) {
	if c.cfg.Registry.TrackUser(info) {
		c.logger.Printf("user joined: %s (%s)", info.DisplayName, info.ConnectionID)
		_ = c.cfg.Telemetry.Emit(context.Background(), storage.TelemetryEvent{
			EventName:    "user.joined",
			SessionID:    c.cfg.SessionID,
			ConnectionID: info.ConnectionID,
		})
	}
	c.checkIfReady()
}

// OnUserLeft implements realtime.Handler.
func (c *Controller) OnUserLeft(info realtime.UserInfo) {
	c.cfg.Registry.UntrackUser(info)
	c.logger.Printf("user left: %s (%s)", info.DisplayName, info.ConnectionID)
}

// OnStoreCreated implements realtime.Handler. First successful creation,
// local or remote, wins; whichever store the platform reports becomes the
// canonical one.
func (c *Controller) OnStoreCreated(store realtime.Store, owner realtime.UserInfo, creationInfo string) {
	c.cfg.Registry.TrackStore(domain.StoreInfo{Store: store, Owner: owner, CreationInfo: creationInfo})

	c.mu.Lock()
	switch store.Scope() {
	case realtime.StoreScopeSession:
		if !c.sessionClosed {
			c.sessionClosed = true
			close(c.sessionObserved)
		}
	case realtime.StoreScopeSessionScoped:
		if !c.scopedClosed {
			c.scopedClosed = true
			close(c.scopedObserved)
		}
	}
	c.mu.Unlock()

	c.checkIfReady()
}

// OnStoreDeleted implements realtime.Handler.
func (c *Controller) OnStoreDeleted(networkID string) {
	c.cfg.Registry.UntrackStore(networkID)
}

// OnStoreOwnershipChanged implements realtime.Handler. Re-ownership
// re-tracks the store so earlier references stay valid until overwritten.
func (c *Controller) OnStoreOwnershipChanged(store realtime.Store, owner realtime.UserInfo) {
	info, ok := c.cfg.Registry.StoreInfoByID(store.NetworkID())
	if !ok {
		info = domain.StoreInfo{Store: store}
	}
	info.Store = store
	info.Owner = owner
	c.cfg.Registry.TrackStore(info)
}

// OnEvent implements realtime.Handler, fanning broadcast events out to
// subscribers.
func (c *Controller) OnEvent(name string, payload []byte) {
	c.mu.Lock()
	fns := make([]func([]byte), len(c.eventFns[name]))
	copy(fns, c.eventFns[name])
	c.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}
