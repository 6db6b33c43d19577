// Package controller implements the session readiness gate.
//
// The controller owns the connection handler: every platform callback updates
// the registry and re-enters the gate. The gate is a conjunction of
// preconditions evaluated in a fixed order after every relevant event; it
// never assumes a fixed arrival order of signals. Readiness is declared
// exactly once per session.
package controller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lenslabs/chordfield/internal/platform/telemetry"
	"github.com/lenslabs/chordfield/internal/platform/timeouts"
	"github.com/lenslabs/chordfield/internal/realtime"
	"github.com/lenslabs/chordfield/internal/session/domain"
	"github.com/lenslabs/chordfield/internal/session/registry"
	"github.com/lenslabs/chordfield/internal/storage"
)

// State describes the readiness lifecycle of a session.
type State int

const (
	// StateNotInitialized indicates no connection attempt has succeeded yet.
	StateNotInitialized State = iota
	// StateInitialized indicates a connection exists but the gate has not
	// fully passed.
	StateInitialized
	// StateWaitingForInvite indicates the session is parked until an invite
	// is shared.
	StateWaitingForInvite
	// StateReady indicates session-dependent logic may run.
	StateReady
)

// ColocatedSetup is the landmark-discovery collaborator for sessions that
// require physical co-presence. Start begins discovery; located is invoked
// once when the participants share a mapped space. The discovery flow itself
// is external to this core.
type ColocatedSetup interface {
	Start(located func())
}

// Config wires a controller's collaborators.
type Config struct {
	Service     realtime.Service
	Registry    *registry.Registry
	SessionID   string
	UserID      string
	DisplayName string

	// RequireSessionStore enables the durable session store precondition.
	RequireSessionStore bool
	// Colocated marks sessions requiring physical co-presence.
	Colocated bool
	// SinglePlayer skips the colocated sub-flow even for colocated sessions.
	SinglePlayer bool
	Setup        ColocatedSetup

	// OnDisconnect is invoked after a hard disconnect resets the flow state.
	OnDisconnect func(reason string)

	Telemetry *telemetry.Emitter
	Logger    *log.Logger
}

// Controller advances a session from NotInitialized to Ready.
type Controller struct {
	cfg    Config
	logger *log.Logger

	settleWindow time.Duration
	readyDelay   time.Duration
	afterFunc    func(d time.Duration, fn func()) *time.Timer

	mu           sync.Mutex
	ctx          context.Context
	conn         realtime.Conn
	state        State
	flow         domain.FlowState
	hasSentReady bool
	readyFns     []func()
	eventFns     map[string][]func(payload []byte)

	sessionObserved chan struct{}
	scopedObserved  chan struct{}
	sessionClosed   bool
	scopedClosed    bool
}

// New constructs a controller. The registry must be shared with every
// collaborator that queries membership.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		cfg:             cfg,
		logger:          logger,
		settleWindow:    timeouts.StoreSettle,
		readyDelay:      timeouts.ReadyDelay,
		afterFunc:       time.AfterFunc,
		eventFns:        make(map[string][]func([]byte)),
		sessionObserved: make(chan struct{}),
		scopedObserved:  make(chan struct{}),
	}
}

// Start connects to the platform and begins gate evaluation. Connection
// failures are returned to the caller; retry policy lives in the autostart
// controller.
func (c *Controller) Start(ctx context.Context) error {
	conn, err := c.cfg.Service.Connect(ctx, realtime.ConnectOptions{
		SessionID:   c.cfg.SessionID,
		UserID:      c.cfg.UserID,
		DisplayName: c.cfg.DisplayName,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ctx = ctx
	c.conn = conn
	if c.state == StateNotInitialized {
		c.state = StateInitialized
	}
	c.mu.Unlock()

	c.cfg.Registry.TrackUser(conn.LocalUser())
	for _, peer := range conn.Peers() {
		c.cfg.Registry.TrackUser(peer)
	}

	// Installing the handler replays current state (connected, stores), so
	// the gate re-evaluates even when signals landed before this point.
	conn.SetHandler(c)
	c.checkIfReady()
	return nil
}

// State returns the current readiness state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Conn returns the live connection, or nil before Start succeeds.
func (c *Controller) Conn() realtime.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// NotifyOnReady registers a one-shot ready callback. It fires immediately
// when the session is already ready, else it is queued; queued callbacks run
// in registration order when the gate passes.
func (c *Controller) NotifyOnReady(fn func()) {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		fn()
		return
	}
	c.readyFns = append(c.readyFns, fn)
	c.mu.Unlock()
}

// SubscribeEvent registers a callback for a named broadcast event.
func (c *Controller) SubscribeEvent(name string, fn func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventFns[name] = append(c.eventFns[name], fn)
}

// AwaitInvite parks the session until an invite is shared. Only meaningful
// before the first connection attempt succeeds.
func (c *Controller) AwaitInvite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateNotInitialized {
		c.state = StateWaitingForInvite
	}
}

// InviteShared marks the invite as shared and resumes gate evaluation.
func (c *Controller) InviteShared() {
	c.mu.Lock()
	c.flow.Shared = true
	if c.state == StateWaitingForInvite {
		c.state = StateInitialized
	}
	c.mu.Unlock()
	c.checkIfReady()
}

// checkIfReady evaluates the gate preconditions in fixed order, each
// short-circuiting until satisfied. Safe to call after any event; all
// transitions it triggers are idempotent.
func (c *Controller) checkIfReady() {
	c.mu.Lock()
	if c.state == StateWaitingForInvite {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return
	}
	if conn.LocalUser().ConnectionID == "" {
		c.mu.Unlock()
		return
	}
	if !c.flow.Connected {
		c.mu.Unlock()
		return
	}

	if c.cfg.RequireSessionStore {
		if _, ok := c.cfg.Registry.StoreByScope(realtime.StoreScopeSession); !ok {
			// At most one creation attempt; the race against a concurrent
			// remote creation is resolved in obtainStore.
			if !c.flow.WaitingForSessionStore {
				c.flow.WaitingForSessionStore = true
				observed := c.sessionObserved
				ctx := c.ctx
				c.mu.Unlock()
				go c.obtainStore(ctx, realtime.StoreScopeSession, "session", observed)
				return
			}
			c.mu.Unlock()
			return
		}
	}

	if _, ok := c.cfg.Registry.StoreByScope(realtime.StoreScopeSessionScoped); !ok {
		if !c.flow.WaitingForScopedStore {
			c.flow.WaitingForScopedStore = true
			observed := c.scopedObserved
			ctx := c.ctx
			c.mu.Unlock()
			go c.obtainStore(ctx, realtime.StoreScopeSessionScoped, "session-scoped", observed)
			return
		}
		c.mu.Unlock()
		return
	}

	if c.cfg.Colocated && !c.cfg.SinglePlayer && !c.flow.ColocatedSetupFinished {
		if !c.flow.ColocatedSetupStarted && c.cfg.Setup != nil {
			c.flow.ColocatedSetupStarted = true
			setup := c.cfg.Setup
			c.mu.Unlock()
			setup.Start(c.onLocated)
			// Starting the sub-flow re-enters the gate: located may already
			// have fired synchronously.
			c.checkIfReady()
			return
		}
		c.mu.Unlock()
		return
	}

	if c.hasSentReady {
		c.mu.Unlock()
		return
	}
	c.hasSentReady = true
	c.mu.Unlock()

	// Stabilization delay before the ready signal; cosmetic, tunable.
	c.afterFunc(c.readyDelay, c.fireReady)
}

// obtainStore resolves the store-creation race: wait up to the settle window
// for a peer's store to appear, then create locally. An observed store is
// preferred when both signals land in the same tick.
func (c *Controller) obtainStore(ctx context.Context, scope realtime.StoreScope, name string, observed chan struct{}) {
	timer := time.NewTimer(c.settleWindow)
	defer timer.Stop()

	select {
	case <-observed:
	case <-timer.C:
		select {
		case <-observed:
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if ctx == nil {
				ctx = context.Background()
			}
			if err := conn.CreateStore(ctx, realtime.CreateStoreOptions{Scope: scope, Name: name}); err != nil {
				// The gate stalls rather than crashes; a later remote
				// creation can still unblock it.
				c.logger.Printf("create %s store: %v", name, err)
				return
			}
		}
	}
	c.checkIfReady()
}

func (c *Controller) onLocated() {
	c.mu.Lock()
	c.flow.ColocatedSetupFinished = true
	c.mu.Unlock()
	c.checkIfReady()
}

func (c *Controller) fireReady() {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	fns := c.readyFns
	c.readyFns = nil
	c.mu.Unlock()

	c.logger.Printf("session %s ready", c.cfg.SessionID)
	_ = c.cfg.Telemetry.Emit(context.Background(), storage.TelemetryEvent{
		EventName: "session.ready",
		SessionID: c.cfg.SessionID,
	})
	for _, fn := range fns {
		fn()
	}
}
