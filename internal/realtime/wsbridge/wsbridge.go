// Package wsbridge adapts the realtime contract onto the managed platform's
// websocket endpoint.
//
// The bridge is a codec, not a replication engine: the service keeps owning
// session membership, store replication, and event fan-out. Frames are JSON
// text messages; the read loop is the single delivery goroutine required by
// the realtime.Handler contract.
package wsbridge

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lenslabs/chordfield/internal/realtime"
)

// frame is the wire envelope. Unused fields stay empty per frame type.
type frame struct {
	Type         string      `json:"type"`
	Code         string      `json:"code,omitempty"`
	Description  string      `json:"description,omitempty"`
	SessionID    string      `json:"sessionId,omitempty"`
	User         *wireUser   `json:"user,omitempty"`
	Peers        []wireUser  `json:"peers,omitempty"`
	Stores       []wireStore `json:"stores,omitempty"`
	Store        *wireStore  `json:"store,omitempty"`
	Owner        *wireUser   `json:"owner,omitempty"`
	CreationInfo string      `json:"creationInfo,omitempty"`
	NetworkID    string      `json:"networkId,omitempty"`
	Scope        string      `json:"scope,omitempty"`
	Name         string      `json:"name,omitempty"`
	Key          string      `json:"key,omitempty"`
	Value        string      `json:"value,omitempty"`
	Payload      []byte      `json:"payload,omitempty"`
	Reason       string      `json:"reason,omitempty"`
}

// Frame types.
const (
	frameConnect         = "connect"
	frameConnected       = "connected"
	frameError           = "error"
	frameUserJoined      = "userJoined"
	frameUserLeft        = "userLeft"
	frameCreateStore     = "createStore"
	frameStoreCreated    = "storeCreated"
	frameStoreDeleted    = "storeDeleted"
	frameOwnerChanged    = "ownerChanged"
	frameSendEvent       = "sendEvent"
	frameEvent           = "event"
	frameSetRegister     = "setRegister"
	frameRegisterChanged = "registerChanged"
	framePut             = "put"
	frameDisconnected    = "disconnected"
)

type wireUser struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type wireStore struct {
	NetworkID string `json:"networkId"`
	Scope     string `json:"scope"`
	Name      string `json:"name"`
}

func (u wireUser) info() realtime.UserInfo {
	return realtime.UserInfo{UserID: u.UserID, ConnectionID: u.ConnectionID, DisplayName: u.DisplayName}
}

func scopeToWire(scope realtime.StoreScope) string {
	switch scope {
	case realtime.StoreScopeSession:
		return "session"
	case realtime.StoreScopeSessionScoped:
		return "sessionScoped"
	default:
		return ""
	}
}

func scopeFromWire(scope string) realtime.StoreScope {
	switch scope {
	case "session":
		return realtime.StoreScopeSession
	case "sessionScoped":
		return realtime.StoreScopeSessionScoped
	default:
		return realtime.StoreScopeUnspecified
	}
}

// Service dials the platform's websocket endpoint.
type Service struct {
	url    string
	dialer *websocket.Dialer

	// probeTimeout bounds the Reachable TCP probe.
	probeTimeout time.Duration
}

// NewService constructs a service for a ws:// or wss:// endpoint URL.
func NewService(endpoint string) *Service {
	return &Service{
		url:          endpoint,
		dialer:       websocket.DefaultDialer,
		probeTimeout: 250 * time.Millisecond,
	}
}

// Reachable implements realtime.Service with a cheap TCP probe of the
// endpoint host. It never performs a platform round-trip.
func (s *Service) Reachable() bool {
	u, err := url.Parse(s.url)
	if err != nil {
		return false
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	conn, err := net.DialTimeout("tcp", host, s.probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Connect implements realtime.Service.
func (s *Service) Connect(ctx context.Context, opts realtime.ConnectOptions) (realtime.Conn, error) {
	ws, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, &realtime.ConnectError{Code: realtime.CodeNetworkError, Description: err.Error()}
	}

	conn := &Conn{ws: ws, stores: make(map[string]*Store)}
	if err := conn.writeFrame(frame{
		Type:      frameConnect,
		SessionID: opts.SessionID,
		User:      &wireUser{UserID: opts.UserID, DisplayName: opts.DisplayName},
	}); err != nil {
		_ = ws.Close()
		return nil, &realtime.ConnectError{Code: realtime.CodeNetworkError, Description: err.Error()}
	}

	var reply frame
	if err := ws.ReadJSON(&reply); err != nil {
		_ = ws.Close()
		return nil, &realtime.ConnectError{Code: realtime.CodeNetworkError, Description: err.Error()}
	}
	switch reply.Type {
	case frameConnected:
	case frameError:
		_ = ws.Close()
		code := realtime.Code(reply.Code)
		if code == "" {
			code = realtime.CodeServerRejected
		}
		return nil, &realtime.ConnectError{Code: code, Description: reply.Description}
	default:
		_ = ws.Close()
		return nil, &realtime.ConnectError{Code: realtime.CodeNetworkError,
			Description: fmt.Sprintf("unexpected frame %q during handshake", reply.Type)}
	}

	if reply.User != nil {
		conn.local = reply.User.info()
	}
	for _, peer := range reply.Peers {
		conn.peers = append(conn.peers, peer.info())
	}
	conn.connected = true
	for _, st := range reply.Stores {
		conn.trackStore(st)
	}

	go conn.readLoop()
	return conn, nil
}
