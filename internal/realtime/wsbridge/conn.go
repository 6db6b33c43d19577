package wsbridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lenslabs/chordfield/internal/realtime"
)

// Conn is a websocket-backed realtime.Conn. The read loop is the single
// delivery goroutine; writes are serialized by writeMu because the websocket
// allows one concurrent writer.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	local realtime.UserInfo
	peers []realtime.UserInfo

	mu        sync.Mutex
	handler   realtime.Handler
	stores    map[string]*Store
	connected bool
	closed    bool
}

// LocalUser implements realtime.Conn.
func (c *Conn) LocalUser() realtime.UserInfo { return c.local }

// Peers implements realtime.Conn.
func (c *Conn) Peers() []realtime.UserInfo {
	peers := make([]realtime.UserInfo, len(c.peers))
	copy(peers, c.peers)
	return peers
}

// SetHandler implements realtime.Conn, replaying connection state the same
// way the in-memory fake and the production service do.
func (c *Conn) SetHandler(h realtime.Handler) {
	c.mu.Lock()
	c.handler = h
	connected := c.connected
	stores := make([]*Store, 0, len(c.stores))
	for _, store := range c.stores {
		stores = append(stores, store)
	}
	c.mu.Unlock()

	if h == nil {
		return
	}
	if connected {
		h.OnConnected()
	}
	for _, store := range stores {
		h.OnStoreCreated(store, store.owner, store.creationInfo)
	}
}

// CreateStore implements realtime.Conn. The result arrives as a
// storeCreated frame, also when a peer's creation wins the race.
func (c *Conn) CreateStore(ctx context.Context, opts realtime.CreateStoreOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	scope := scopeToWire(opts.Scope)
	if scope == "" {
		return fmt.Errorf("store scope is required")
	}
	return c.writeFrame(frame{Type: frameCreateStore, Scope: scope, Name: opts.Name})
}

// SendEvent implements realtime.Conn.
func (c *Conn) SendEvent(name string, payload []byte) error {
	return c.writeFrame(frame{Type: frameSendEvent, Name: name, Payload: payload})
}

// Close implements realtime.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *Conn) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

// readLoop dispatches server frames until the socket fails or closes. All
// handler callbacks run on this goroutine.
func (c *Conn) readLoop() {
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.dispatchDisconnect(err.Error())
			return
		}
		if f.Type == frameDisconnected {
			c.dispatchDisconnect(f.Reason)
			return
		}
		c.dispatch(f)
	}
}

func (c *Conn) dispatchDisconnect(reason string) {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.connected = false
	h := c.handler
	c.mu.Unlock()

	_ = c.ws.Close()
	if h != nil && !alreadyClosed {
		h.OnDisconnected(reason)
	}
}

func (c *Conn) dispatch(f frame) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	switch f.Type {
	case frameUserJoined:
		if f.User != nil && h != nil {
			h.OnUserJoined(f.User.info())
		}
	case frameUserLeft:
		if f.User != nil && h != nil {
			h.OnUserLeft(f.User.info())
		}
	case frameStoreCreated:
		if f.Store == nil {
			return
		}
		store := c.trackStore(*f.Store)
		if f.Owner != nil {
			store.owner = f.Owner.info()
		}
		store.creationInfo = f.CreationInfo
		if h != nil {
			h.OnStoreCreated(store, store.owner, store.creationInfo)
		}
	case frameStoreDeleted:
		c.mu.Lock()
		delete(c.stores, f.NetworkID)
		c.mu.Unlock()
		if h != nil {
			h.OnStoreDeleted(f.NetworkID)
		}
	case frameOwnerChanged:
		c.mu.Lock()
		store := c.stores[f.NetworkID]
		c.mu.Unlock()
		if store == nil || f.Owner == nil {
			return
		}
		store.owner = f.Owner.info()
		if h != nil {
			h.OnStoreOwnershipChanged(store, store.owner)
		}
	case frameEvent:
		if h != nil {
			h.OnEvent(f.Name, f.Payload)
		}
	case frameRegisterChanged:
		c.mu.Lock()
		store := c.stores[f.NetworkID]
		c.mu.Unlock()
		if store != nil {
			store.applyRegisterChange(f.Key, f.Value)
		}
	case framePut:
		c.mu.Lock()
		store := c.stores[f.NetworkID]
		c.mu.Unlock()
		if store != nil {
			store.applyPut(f.Key, f.Value)
		}
	}
}

// trackStore returns the cached store for a wire descriptor, creating it on
// first sight.
func (c *Conn) trackStore(w wireStore) *Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	if store, ok := c.stores[w.NetworkID]; ok {
		return store
	}
	store := &Store{
		conn:      c,
		networkID: w.NetworkID,
		scope:     scopeFromWire(w.Scope),
		name:      w.Name,
		values:    make(map[string]string),
		registers: make(map[string]*register),
	}
	c.stores[w.NetworkID] = store
	return store
}
