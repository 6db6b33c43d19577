package registry

import (
	"testing"

	"github.com/lenslabs/chordfield/internal/realtime"
	"github.com/lenslabs/chordfield/internal/realtime/realtimetest"
	"github.com/lenslabs/chordfield/internal/session/domain"
)

func user(userID, connectionID string) realtime.UserInfo {
	return realtime.UserInfo{UserID: userID, ConnectionID: connectionID, DisplayName: userID}
}

func TestTrackUserReportsNewConnection(t *testing.T) {
	reg := New()

	if !reg.TrackUser(user("u1", "c1")) {
		t.Fatal("expected first track to report a new connection")
	}
	if reg.TrackUser(user("u1", "c1")) {
		t.Fatal("expected redelivered join to report an existing connection")
	}
	if got := reg.UserCount(); got != 1 {
		t.Fatalf("expected 1 user, got %d", got)
	}
}

func TestTrackUserRejectsEmptyConnectionID(t *testing.T) {
	reg := New()
	if reg.TrackUser(realtime.UserInfo{UserID: "u1"}) {
		t.Fatal("expected empty connection id to be rejected")
	}
	if got := reg.UserCount(); got != 0 {
		t.Fatalf("expected 0 users, got %d", got)
	}
}

func TestFlatListNeverDuplicatesConnection(t *testing.T) {
	reg := New()
	reg.TrackUser(user("u1", "c1"))
	reg.TrackUser(user("u1", "c1"))
	reg.TrackUser(user("u1", "c2"))

	users := reg.Users()
	seen := make(map[string]int)
	for _, u := range users {
		seen[u.ConnectionID]++
	}
	for connID, count := range seen {
		if count != 1 {
			t.Fatalf("connection %s appears %d times in flat list", connID, count)
		}
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestUsersByUserIDAllowsMultipleConnections(t *testing.T) {
	reg := New()
	reg.TrackUser(user("u1", "c1"))
	reg.TrackUser(user("u1", "c2"))
	reg.TrackUser(user("u2", "c3"))

	if got := len(reg.UsersByUserID("u1")); got != 2 {
		t.Fatalf("expected 2 connections for u1, got %d", got)
	}
	if got := len(reg.UsersByUserID("u2")); got != 1 {
		t.Fatalf("expected 1 connection for u2, got %d", got)
	}
	if got := len(reg.UsersByUserID("missing")); got != 0 {
		t.Fatalf("expected no connections for unknown user, got %d", got)
	}
}

func TestUntrackUserRemovesAllIndexes(t *testing.T) {
	reg := New()
	reg.TrackUser(user("u1", "c1"))
	reg.TrackUser(user("u1", "c2"))

	reg.UntrackUser(user("u1", "c1"))

	if _, ok := reg.UserByConnectionID("c1"); ok {
		t.Fatal("expected c1 to be removed")
	}
	if _, ok := reg.UserByConnectionID("c2"); !ok {
		t.Fatal("expected c2 to remain")
	}
	if got := len(reg.UsersByUserID("u1")); got != 1 {
		t.Fatalf("expected 1 remaining connection for u1, got %d", got)
	}
	if got := reg.UserCount(); got != 1 {
		t.Fatalf("expected 1 user, got %d", got)
	}

	// Untracking an unknown connection is a no-op.
	reg.UntrackUser(user("u1", "c1"))
	if got := reg.UserCount(); got != 1 {
		t.Fatalf("expected 1 user after duplicate untrack, got %d", got)
	}
}

func TestTrackStoreReplacesOnReOwnership(t *testing.T) {
	reg := New()
	store := sharedStore(t)

	reg.TrackStore(domain.StoreInfo{Store: store, Owner: user("u1", "c1")})
	first, ok := reg.StoreInfoByID(store.NetworkID())
	if !ok {
		t.Fatal("expected store to be tracked")
	}

	reg.TrackStore(domain.StoreInfo{Store: store, Owner: user("u2", "c2")})
	second, ok := reg.StoreInfoByID(store.NetworkID())
	if !ok {
		t.Fatal("expected store to remain tracked")
	}
	if second.Owner.ConnectionID != "c2" {
		t.Fatalf("expected new owner c2, got %s", second.Owner.ConnectionID)
	}
	// The previously returned record is unchanged.
	if first.Owner.ConnectionID != "c1" {
		t.Fatalf("expected old record to keep owner c1, got %s", first.Owner.ConnectionID)
	}
}

func TestUntrackStore(t *testing.T) {
	reg := New()
	store := sharedStore(t)
	reg.TrackStore(domain.StoreInfo{Store: store, Owner: user("u1", "c1")})

	reg.UntrackStore(store.NetworkID())
	if _, ok := reg.StoreInfoByID(store.NetworkID()); ok {
		t.Fatal("expected store to be removed")
	}
	if _, ok := reg.StoreByScope(store.Scope()); ok {
		t.Fatal("expected no store for scope")
	}
}

// sharedStore obtains a store through the in-memory platform fake so the
// registry is exercised against the realtime.Store contract.
func sharedStore(t *testing.T) realtime.Store {
	t.Helper()
	svc := realtimetest.NewService()
	conn, err := svc.Connect(t.Context(), realtime.ConnectOptions{SessionID: "s1", UserID: "u1"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var captured realtime.Store
	conn.SetHandler(captureHandler{onStoreCreated: func(store realtime.Store) { captured = store }})
	if err := conn.CreateStore(t.Context(), realtime.CreateStoreOptions{Scope: realtime.StoreScopeSessionScoped, Name: "session"}); err != nil {
		t.Fatalf("create store: %v", err)
	}
	if captured == nil {
		t.Fatal("expected store creation callback")
	}
	return captured
}

type captureHandler struct {
	onStoreCreated func(realtime.Store)
}

func (h captureHandler) OnConnected()                                              {}
func (h captureHandler) OnDisconnected(string)                                     {}
func (h captureHandler) OnUserJoined(realtime.UserInfo)                            {}
func (h captureHandler) OnUserLeft(realtime.UserInfo)                              {}
func (h captureHandler) OnStoreDeleted(string)                                     {}
func (h captureHandler) OnStoreOwnershipChanged(realtime.Store, realtime.UserInfo) {}
func (h captureHandler) OnEvent(string, []byte)                                    {}
func (h captureHandler) OnStoreCreated(store realtime.Store, _ realtime.UserInfo, _ string) {
	if h.onStoreCreated != nil {
		h.onStoreCreated(store)
	}
}
