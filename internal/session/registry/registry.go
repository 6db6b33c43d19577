// Package registry maintains a de-duplicated, queryable view of session
// membership and shared stores.
//
// Entries are owned by the registry and replaced, never mutated in place, so
// references handed out earlier stay valid until overwritten. All methods are
// safe for concurrent use: platform callbacks arrive from the delivery
// goroutine while lookups come from API callers.
package registry

import (
	"sync"

	"github.com/lenslabs/chordfield/internal/realtime"
	"github.com/lenslabs/chordfield/internal/session/domain"
)

// Registry indexes connected users and tracked shared stores.
type Registry struct {
	mu                sync.Mutex
	byConnectionID    map[string]realtime.UserInfo
	byUserID          map[string][]realtime.UserInfo
	users             []realtime.UserInfo
	storesByNetworkID map[string]domain.StoreInfo
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		byConnectionID:    make(map[string]realtime.UserInfo),
		byUserID:          make(map[string][]realtime.UserInfo),
		storesByNetworkID: make(map[string]domain.StoreInfo),
	}
}

// TrackUser inserts a user into all three indexes. It reports whether the
// connection is genuinely new; transports may redeliver join events and the
// result suppresses duplicate joined notifications.
func (r *Registry) TrackUser(info realtime.UserInfo) bool {
	if info.ConnectionID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConnectionID[info.ConnectionID]; ok {
		// Redelivered join: refresh the record but report nothing new.
		r.replaceLocked(info)
		return false
	}
	r.byConnectionID[info.ConnectionID] = info
	r.byUserID[info.UserID] = append(r.byUserID[info.UserID], info)
	r.users = append(r.users, info)
	return true
}

// replaceLocked overwrites an existing connection's record in every index.
func (r *Registry) replaceLocked(info realtime.UserInfo) {
	r.byConnectionID[info.ConnectionID] = info
	list := r.byUserID[info.UserID]
	for i := range list {
		if list[i].ConnectionID == info.ConnectionID {
			list[i] = info
		}
	}
	for i := range r.users {
		if r.users[i].ConnectionID == info.ConnectionID {
			r.users[i] = info
		}
	}
}

// UntrackUser removes the user's connection from all three indexes.
func (r *Registry) UntrackUser(info realtime.UserInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracked, ok := r.byConnectionID[info.ConnectionID]
	if !ok {
		return
	}
	delete(r.byConnectionID, info.ConnectionID)

	list := r.byUserID[tracked.UserID]
	for i := range list {
		if list[i].ConnectionID == info.ConnectionID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.byUserID, tracked.UserID)
	} else {
		r.byUserID[tracked.UserID] = list
	}

	for i := range r.users {
		if r.users[i].ConnectionID == info.ConnectionID {
			r.users = append(r.users[:i], r.users[i+1:]...)
			break
		}
	}
}

// UserByConnectionID returns the user tracked under a connection id.
func (r *Registry) UserByConnectionID(connectionID string) (realtime.UserInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byConnectionID[connectionID]
	return info, ok
}

// UsersByUserID returns every live connection of a persistent user id. The
// list may hold several entries when one person is connected multiple times.
func (r *Registry) UsersByUserID(userID string) []realtime.UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byUserID[userID]
	out := make([]realtime.UserInfo, len(list))
	copy(out, list)
	return out
}

// Users returns the flat de-duplicated user list in track order.
func (r *Registry) Users() []realtime.UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.UserInfo, len(r.users))
	copy(out, r.users)
	return out
}

// UserCount returns the number of live connections.
func (r *Registry) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// TrackStore indexes a shared store by its network id. Re-tracking an id
// (e.g. after an ownership change) replaces the record rather than mutating
// it.
func (r *Registry) TrackStore(info domain.StoreInfo) {
	if info.Store == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storesByNetworkID[info.Store.NetworkID()] = info
}

// UntrackStore removes a store record by network id.
func (r *Registry) UntrackStore(networkID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.storesByNetworkID, networkID)
}

// StoreInfoByID returns the store record tracked under a network id.
func (r *Registry) StoreInfoByID(networkID string) (domain.StoreInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.storesByNetworkID[networkID]
	return info, ok
}

// StoreByScope returns the first tracked store with the given scope.
func (r *Registry) StoreByScope(scope realtime.StoreScope) (domain.StoreInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range r.storesByNetworkID {
		if info.Store.Scope() == scope {
			return info, true
		}
	}
	return domain.StoreInfo{}, false
}
