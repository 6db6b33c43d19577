// Package realtimetest provides an in-memory realtime.Service fake.
//
// The fake replicates stores and registers between connections of the same
// session and delivers handler callbacks synchronously on the mutating
// goroutine. Mutation happens under the service lock; callbacks are invoked
// after the lock is released so handlers may call back into the service.
package realtimetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/lenslabs/chordfield/internal/realtime"
)

// Service is an in-memory realtime.Service for tests and scenarios.
type Service struct {
	mu        sync.Mutex
	reachable bool
	failures  []realtime.Code
	sessions  map[string]*session
	connSeq   int
	storeSeq  int
}

type session struct {
	id     string
	conns  []*Conn
	stores []*Store
}

// NewService constructs a reachable service with no scripted failures.
func NewService() *Service {
	return &Service{reachable: true, sessions: make(map[string]*session)}
}

// SetReachable toggles the local connectivity check.
func (s *Service) SetReachable(reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = reachable
}

// Reachable implements realtime.Service.
func (s *Service) Reachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

// FailConnections scripts the next n connection attempts to fail with code.
func (s *Service) FailConnections(n int, code realtime.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, code)
	}
}

// Connect implements realtime.Service.
func (s *Service) Connect(ctx context.Context, opts realtime.ConnectOptions) (realtime.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if len(s.failures) > 0 {
		code := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return nil, &realtime.ConnectError{Code: code, Description: "scripted failure"}
	}
	if !s.reachable {
		s.mu.Unlock()
		return nil, &realtime.ConnectError{Code: realtime.CodeNoInternet, Description: "network unreachable"}
	}

	sess, ok := s.sessions[opts.SessionID]
	if !ok {
		sess = &session{id: opts.SessionID}
		s.sessions[opts.SessionID] = sess
	}

	s.connSeq++
	userID := opts.UserID
	if userID == "" {
		userID = fmt.Sprintf("user-%d", s.connSeq)
	}
	conn := &Conn{
		svc:  s,
		sess: sess,
		local: realtime.UserInfo{
			UserID:       userID,
			ConnectionID: fmt.Sprintf("%s-conn-%016d", userID, s.connSeq),
			DisplayName:  opts.DisplayName,
		},
		connected: true,
	}
	for _, peer := range sess.conns {
		conn.peers = append(conn.peers, peer.local)
	}
	sess.conns = append(sess.conns, conn)

	notify := peerHandlers(sess, conn)
	s.mu.Unlock()

	for _, h := range notify {
		h.OnUserJoined(conn.local)
	}
	return conn, nil
}

// DropConn simulates the platform dropping a connection: the dropped side
// observes a disconnect, peers observe a leave.
func (s *Service) DropConn(conn *Conn, reason string) {
	s.mu.Lock()
	if conn.dropped {
		s.mu.Unlock()
		return
	}
	conn.dropped = true
	conn.connected = false
	removeConn(conn.sess, conn)
	own := conn.handler
	notify := peerHandlers(conn.sess, conn)
	s.mu.Unlock()

	if own != nil {
		own.OnDisconnected(reason)
	}
	for _, h := range notify {
		h.OnUserLeft(conn.local)
	}
}

func removeConn(sess *session, conn *Conn) {
	for i, c := range sess.conns {
		if c == conn {
			sess.conns = append(sess.conns[:i], sess.conns[i+1:]...)
			return
		}
	}
}

// peerHandlers collects the installed handlers of every session connection
// except self. Must be called under the service lock.
func peerHandlers(sess *session, self *Conn) []realtime.Handler {
	var handlers []realtime.Handler
	for _, c := range sess.conns {
		if c == self || c.handler == nil {
			continue
		}
		handlers = append(handlers, c.handler)
	}
	return handlers
}
