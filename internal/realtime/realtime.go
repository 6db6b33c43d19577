package realtime

import "context"

// UserInfo identifies a participant connection.
//
// ConnectionID is unique for a live connection; UserID is the persistent
// identity and may be shared by several simultaneous connections when one
// person reconnects or joins from multiple devices. Values are replaced,
// never mutated in place.
type UserInfo struct {
	UserID       string
	ConnectionID string
	DisplayName  string
}

// StoreScope distinguishes the two shared stores a session uses.
type StoreScope int

const (
	// StoreScopeUnspecified represents an invalid store scope value.
	StoreScopeUnspecified StoreScope = iota
	// StoreScopeSession is the durable session store that outlives a single
	// connection.
	StoreScopeSession
	// StoreScopeSessionScoped is the store bound to the live session.
	StoreScopeSessionScoped
)

// ConnectOptions describe a connection attempt.
type ConnectOptions struct {
	SessionID   string
	UserID      string
	DisplayName string
}

// CreateStoreOptions describe a shared store creation attempt. Creation is
// asynchronous: the result arrives as an OnStoreCreated callback, which also
// fires when a peer creates the store first. First successful creation wins.
type CreateStoreOptions struct {
	Scope StoreScope
	Name  string
}

// Service is the entry point of the replicated-session platform.
type Service interface {
	// Connect establishes a session connection. Failures are reported as
	// *ConnectError.
	Connect(ctx context.Context, opts ConnectOptions) (Conn, error)
	// Reachable reports whether the network is locally reachable. It is a
	// cheap local check, not a server round-trip.
	Reachable() bool
}

// Conn is an established session connection.
type Conn interface {
	// LocalUser returns the identity assigned to this connection.
	LocalUser() UserInfo
	// Peers returns the users connected when this connection was
	// established. Later changes arrive as join/leave callbacks.
	Peers() []UserInfo
	// CreateStore starts an asynchronous store creation attempt.
	CreateStore(ctx context.Context, opts CreateStoreOptions) error
	// SendEvent broadcasts a custom event to the other session peers.
	// Delivery is at-least-once and unordered relative to register updates.
	SendEvent(name string, payload []byte) error
	// SetHandler installs the callback bundle. Installing a handler replays
	// the current connection state: OnConnected when connected, and
	// OnStoreCreated for every store that already exists.
	SetHandler(h Handler)
	// Close tears the connection down.
	Close() error
}

// Handler receives platform callbacks. Calls are sequential per connection.
type Handler interface {
	OnConnected()
	OnDisconnected(reason string)
	OnUserJoined(info UserInfo)
	OnUserLeft(info UserInfo)
	OnStoreCreated(store Store, owner UserInfo, creationInfo string)
	OnStoreDeleted(networkID string)
	OnStoreOwnershipChanged(store Store, owner UserInfo)
	OnEvent(name string, payload []byte)
}

// Store is a shared key/value store with last-write-wins semantics per key.
type Store interface {
	NetworkID() string
	Scope() StoreScope
	Put(key, value string) error
	Get(key string) (value string, ok bool)
	// Register returns the replicated register stored under key. Repeated
	// calls with the same key return views over the same replicated value.
	Register(key string) Register
}

// Register is a named replicated value.
type Register interface {
	// CurrentOrPendingValue is the optimistic local read: the pending write
	// when one is in flight, else the last confirmed value. Empty string
	// when never written.
	CurrentOrPendingValue() string
	// SetPendingValue proposes a new value, asynchronously confirmed or
	// superseded by the platform's last-write-wins rule.
	SetPendingValue(value string) error
	// OnChange subscribes to value changes. Callbacks may fire for local and
	// remote writes.
	OnChange(fn func(value string))
}
