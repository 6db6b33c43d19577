package realtimetest

import (
	"context"
	"fmt"

	"github.com/lenslabs/chordfield/internal/realtime"
)

// Conn is an in-memory realtime.Conn.
type Conn struct {
	svc       *Service
	sess      *session
	local     realtime.UserInfo
	peers     []realtime.UserInfo
	handler   realtime.Handler
	connected bool
	dropped   bool
}

// LocalUser implements realtime.Conn.
func (c *Conn) LocalUser() realtime.UserInfo { return c.local }

// Peers implements realtime.Conn.
func (c *Conn) Peers() []realtime.UserInfo {
	peers := make([]realtime.UserInfo, len(c.peers))
	copy(peers, c.peers)
	return peers
}

// SetHandler implements realtime.Conn. It replays the current connection
// state: OnConnected when connected, then OnStoreCreated per existing store.
func (c *Conn) SetHandler(h realtime.Handler) {
	c.svc.mu.Lock()
	c.handler = h
	connected := c.connected
	stores := make([]*Store, len(c.sess.stores))
	copy(stores, c.sess.stores)
	c.svc.mu.Unlock()

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

// CreateStore implements realtime.Conn. The first creation per scope wins;
// later attempts observe the existing store instead of replacing it.
func (c *Conn) CreateStore(ctx context.Context, opts realtime.CreateStoreOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Scope == realtime.StoreScopeUnspecified {
		return fmt.Errorf("store scope is required")
	}

	c.svc.mu.Lock()
	if !c.connected {
		c.svc.mu.Unlock()
		return fmt.Errorf("connection is closed")
	}
	for _, store := range c.sess.stores {
		if store.scope == opts.Scope {
			own := c.handler
			c.svc.mu.Unlock()
			if own != nil {
				own.OnStoreCreated(store, store.owner, store.creationInfo)
			}
			return nil
		}
	}

	c.svc.storeSeq++
	store := &Store{
		svc:          c.svc,
		networkID:    fmt.Sprintf("net-store-%d", c.svc.storeSeq),
		scope:        opts.Scope,
		name:         opts.Name,
		owner:        c.local,
		creationInfo: "created by " + c.local.ConnectionID,
		values:       make(map[string]string),
		registers:    make(map[string]*register),
	}
	c.sess.stores = append(c.sess.stores, store)

	var notify []realtime.Handler
	for _, peer := range c.sess.conns {
		if peer.handler != nil {
			notify = append(notify, peer.handler)
		}
	}
	c.svc.mu.Unlock()

	for _, h := range notify {
		h.OnStoreCreated(store, store.owner, store.creationInfo)
	}
	return nil
}

// SendEvent implements realtime.Conn. Events are delivered to every other
// session peer.
func (c *Conn) SendEvent(name string, payload []byte) error {
	c.svc.mu.Lock()
	if !c.connected {
		c.svc.mu.Unlock()
		return fmt.Errorf("connection is closed")
	}
	notify := peerHandlers(c.sess, c)
	c.svc.mu.Unlock()

	for _, h := range notify {
		h.OnEvent(name, payload)
	}
	return nil
}

// Close implements realtime.Conn.
func (c *Conn) Close() error {
	c.svc.mu.Lock()
	if !c.connected {
		c.svc.mu.Unlock()
		return nil
	}
	c.connected = false
	removeConn(c.sess, c)
	notify := peerHandlers(c.sess, c)
	c.svc.mu.Unlock()

	for _, h := range notify {
		h.OnUserLeft(c.local)
	}
	return nil
}
