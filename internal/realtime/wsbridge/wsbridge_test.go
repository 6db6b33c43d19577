package wsbridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lenslabs/chordfield/internal/realtime"
)

var upgrader = websocket.Upgrader{}

// newScriptedServer runs script against each incoming websocket connection
// and returns a ws:// endpoint URL.
func newScriptedServer(t *testing.T, script func(ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		script(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// acceptConnect consumes the handshake frame and replies connected.
func acceptConnect(t *testing.T, ws *websocket.Conn, reply frame) frame {
	t.Helper()
	var hello frame
	if err := ws.ReadJSON(&hello); err != nil {
		t.Errorf("read connect frame: %v", err)
		return hello
	}
	if hello.Type != frameConnect {
		t.Errorf("expected connect frame, got %q", hello.Type)
	}
	reply.Type = frameConnected
	if err := ws.WriteJSON(reply); err != nil {
		t.Errorf("write connected frame: %v", err)
	}
	return hello
}

type recordingHandler struct {
	mu           sync.Mutex
	connected    int
	disconnected []string
	stores       []realtime.Store
	events       []string
	joined       []realtime.UserInfo
}

func (h *recordingHandler) OnConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *recordingHandler) OnDisconnected(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, reason)
}

func (h *recordingHandler) OnUserJoined(info realtime.UserInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joined = append(h.joined, info)
}

func (h *recordingHandler) OnUserLeft(realtime.UserInfo) {}

func (h *recordingHandler) OnStoreCreated(store realtime.Store, _ realtime.UserInfo, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stores = append(h.stores, store)
}

func (h *recordingHandler) OnStoreDeleted(string) {}

func (h *recordingHandler) OnStoreOwnershipChanged(realtime.Store, realtime.UserInfo) {}

func (h *recordingHandler) OnEvent(name string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, name)
}

func (h *recordingHandler) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		ok := cond()
		h.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestConnectHandshakeAndReplay(t *testing.T) {
	endpoint := newScriptedServer(t, func(ws *websocket.Conn) {
		hello := acceptConnect(t, ws, frame{
			User:   &wireUser{UserID: "u1", ConnectionID: "u1-conn-id-1234567890", DisplayName: "Ana"},
			Peers:  []wireUser{{UserID: "u2", ConnectionID: "u2-conn-id-0987654321"}},
			Stores: []wireStore{{NetworkID: "net-1", Scope: "sessionScoped", Name: "session"}},
		})
		if hello.SessionID != "s1" {
			t.Errorf("expected session id s1, got %q", hello.SessionID)
		}
		// Hold the socket open until the client is done.
		_, _, _ = ws.ReadMessage()
	})

	svc := NewService(endpoint)
	conn, err := svc.Connect(t.Context(), realtime.ConnectOptions{SessionID: "s1", UserID: "u1", DisplayName: "Ana"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if got := conn.LocalUser().ConnectionID; got != "u1-conn-id-1234567890" {
		t.Fatalf("unexpected local connection id %q", got)
	}
	if peers := conn.Peers(); len(peers) != 1 || peers[0].UserID != "u2" {
		t.Fatalf("unexpected peers %v", peers)
	}

	h := &recordingHandler{}
	conn.SetHandler(h)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connected != 1 {
		t.Fatalf("expected replayed OnConnected, got %d", h.connected)
	}
	if len(h.stores) != 1 || h.stores[0].NetworkID() != "net-1" {
		t.Fatalf("expected replayed store net-1, got %v", h.stores)
	}
	if h.stores[0].Scope() != realtime.StoreScopeSessionScoped {
		t.Fatalf("unexpected scope %d", h.stores[0].Scope())
	}
}

func TestConnectRejection(t *testing.T) {
	endpoint := newScriptedServer(t, func(ws *websocket.Conn) {
		var hello frame
		if err := ws.ReadJSON(&hello); err != nil {
			t.Errorf("read connect frame: %v", err)
			return
		}
		_ = ws.WriteJSON(frame{Type: frameError, Code: string(realtime.CodeServerRejected), Description: "session full"})
	})

	svc := NewService(endpoint)
	_, err := svc.Connect(t.Context(), realtime.ConnectOptions{SessionID: "s1"})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if code := realtime.ErrorCode(err); code != realtime.CodeServerRejected {
		t.Fatalf("expected SERVER_REJECTED, got %s", code)
	}
}

func TestCreateStoreRoundTrip(t *testing.T) {
	endpoint := newScriptedServer(t, func(ws *websocket.Conn) {
		acceptConnect(t, ws, frame{User: &wireUser{UserID: "u1", ConnectionID: "c1"}})
		var req frame
		if err := ws.ReadJSON(&req); err != nil {
			t.Errorf("read create frame: %v", err)
			return
		}
		if req.Type != frameCreateStore || req.Scope != "session" {
			t.Errorf("unexpected create frame %+v", req)
		}
		_ = ws.WriteJSON(frame{
			Type:  frameStoreCreated,
			Store: &wireStore{NetworkID: "net-9", Scope: req.Scope, Name: req.Name},
			Owner: &wireUser{UserID: "u1", ConnectionID: "c1"},
		})
		_, _, _ = ws.ReadMessage()
	})

	svc := NewService(endpoint)
	conn, err := svc.Connect(t.Context(), realtime.ConnectOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	h := &recordingHandler{}
	conn.SetHandler(h)

	if err := conn.CreateStore(t.Context(), realtime.CreateStoreOptions{Scope: realtime.StoreScopeSession, Name: "session"}); err != nil {
		t.Fatalf("create store: %v", err)
	}
	h.waitFor(t, "store created callback", func() bool { return len(h.stores) == 1 })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stores[0].NetworkID() != "net-9" || h.stores[0].Scope() != realtime.StoreScopeSession {
		t.Fatalf("unexpected store %v", h.stores[0])
	}
}

func TestRegisterChangeDispatch(t *testing.T) {
	endpoint := newScriptedServer(t, func(ws *websocket.Conn) {
		acceptConnect(t, ws, frame{
			User:   &wireUser{UserID: "u1", ConnectionID: "c1"},
			Stores: []wireStore{{NetworkID: "net-1", Scope: "sessionScoped"}},
		})
		var req frame
		if err := ws.ReadJSON(&req); err != nil {
			t.Errorf("read register frame: %v", err)
			return
		}
		if req.Type != frameSetRegister || req.Key != "session.phase" || req.Value != "1" {
			t.Errorf("unexpected register frame %+v", req)
		}
		// Confirm the write back to the client.
		_ = ws.WriteJSON(frame{Type: frameRegisterChanged, NetworkID: "net-1", Key: "session.phase", Value: "1"})
		_, _, _ = ws.ReadMessage()
	})

	svc := NewService(endpoint)
	conn, err := svc.Connect(t.Context(), realtime.ConnectOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	h := &recordingHandler{}
	conn.SetHandler(h)

	h.mu.Lock()
	store := h.stores[0]
	h.mu.Unlock()

	reg := store.Register("session.phase")
	var mu sync.Mutex
	var changes []string
	reg.OnChange(func(v string) {
		mu.Lock()
		changes = append(changes, v)
		mu.Unlock()
	})

	if err := reg.SetPendingValue("1"); err != nil {
		t.Fatalf("set register: %v", err)
	}
	if got := reg.CurrentOrPendingValue(); got != "1" {
		t.Fatalf("expected optimistic read 1, got %q", got)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("register change never dispatched")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestEventAndDisconnectDispatch(t *testing.T) {
	endpoint := newScriptedServer(t, func(ws *websocket.Conn) {
		acceptConnect(t, ws, frame{User: &wireUser{UserID: "u1", ConnectionID: "c1"}})
		_ = ws.WriteJSON(frame{Type: frameEvent, Name: "progression.mixed", Payload: []byte(`{}`)})
		_ = ws.WriteJSON(frame{Type: frameDisconnected, Reason: "session ended"})
	})

	svc := NewService(endpoint)
	conn, err := svc.Connect(t.Context(), realtime.ConnectOptions{SessionID: "s1"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	h := &recordingHandler{}
	conn.SetHandler(h)

	h.waitFor(t, "event dispatch", func() bool { return len(h.events) == 1 })
	h.waitFor(t, "disconnect dispatch", func() bool { return len(h.disconnected) == 1 })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.events[0] != "progression.mixed" {
		t.Fatalf("unexpected event %q", h.events[0])
	}
	if h.disconnected[0] != "session ended" {
		t.Fatalf("unexpected disconnect reason %q", h.disconnected[0])
	}
}
