// Package statesync implements the replicated submission protocol: each
// participant submits an ordered chord progression exactly once, the protocol
// detects when every current participant has submitted, and completion is
// signalled exactly once.
//
// All protocol state lives in replicated registers on the session-scoped
// store, so it is shared by every participant and survives observers joining
// late. Register updates are last-write-wins with no cross-key atomicity;
// the protocol re-evaluates completion on every register change instead of
// assuming an arrival order.
package statesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/lenslabs/chordfield/internal/platform/telemetry"
	"github.com/lenslabs/chordfield/internal/realtime"
	"github.com/lenslabs/chordfield/internal/session/domain"
	"github.com/lenslabs/chordfield/internal/session/registry"
	"github.com/lenslabs/chordfield/internal/storage"
)

// Broadcast event names.
const (
	// EventProgressionSubmitted is the best-effort informational broadcast
	// sent after a submission lands. Not required for correctness.
	EventProgressionSubmitted = "progression.submitted"
	// EventProgressionMixed announces a combination of two progressions,
	// consumed by the display manager.
	EventProgressionMixed = "progression.mixed"
)

// Register keys on the session-scoped store.
const (
	keyPhase            = "session.phase"
	keySubmittedUsers   = "session.submittedUsers"
	keyProgressions     = "session.progressions"
	keyLabelConfigOwner = "label.configOwner"
)

// progressionRecord is one participant's tagged submission. Tagged records
// replace the legacy flat token list, so decoding never depends on token
// length heuristics.
type progressionRecord struct {
	ConnectionID string   `json:"connectionId"`
	Chords       []string `json:"chords"`
}

// SubmittedEvent is the payload of EventProgressionSubmitted.
type SubmittedEvent struct {
	ConnectionID string `json:"connectionId"`
	ChordCount   int    `json:"chordCount"`
}

// MixEvent is the payload of EventProgressionMixed.
type MixEvent struct {
	ConnectionIDA string   `json:"connectionIdA"`
	ConnectionIDB string   `json:"connectionIdB"`
	Chords        []string `json:"chords"`
}

// Config wires the protocol's collaborators.
type Config struct {
	SessionID string
	// Conn broadcasts best-effort events; may be nil in headless tests.
	Conn realtime.Conn
	// Store is the session-scoped store holding the protocol registers.
	Store realtime.Store
	// Registry supplies the current roster for completion detection.
	Registry *registry.Registry
	// OnAllSubmitted fires exactly once when every participant has
	// submitted.
	OnAllSubmitted func()
	Telemetry      *telemetry.Emitter
	Logger         *log.Logger
}

// Sync is the submission protocol over one session's registers.
type Sync struct {
	cfg    Config
	logger *log.Logger

	phase        realtime.Register
	submitted    realtime.Register
	progressions realtime.Register
	owner        realtime.Register

	// writeMu serializes local read-modify-write cycles on the list
	// registers. It is never held while invoking handlers: the sync's own
	// watchers are muted while it is held, and the writer re-runs
	// completion detection after unlocking.
	writeMu sync.Mutex
	// muteWatch suppresses this sync's register watchers during a local
	// write, so a synchronous confirmation cannot re-enter writeMu.
	muteWatch atomic.Bool
	// stateMu guards the completion latch only.
	stateMu   sync.Mutex
	completed bool
}

// New creates the protocol registers on the session-scoped store and watches
// them for remote changes.
func New(cfg Config) (*Sync, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session-scoped store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Sync{
		cfg:          cfg,
		logger:       logger,
		phase:        cfg.Store.Register(keyPhase),
		submitted:    cfg.Store.Register(keySubmittedUsers),
		progressions: cfg.Store.Register(keyProgressions),
		owner:        cfg.Store.Register(keyLabelConfigOwner),
	}
	s.submitted.OnChange(func(string) {
		if s.muteWatch.Load() {
			return
		}
		s.CheckAllSubmitted()
	})
	s.phase.OnChange(func(value string) {
		if s.muteWatch.Load() {
			return
		}
		s.onPhaseValue(value)
	})
	return s, nil
}

// SubmitProgression records a participant's ordered chord list. A connection
// that already submitted is silently ignored, enforcing at-most-once
// submission per connection.
func (s *Sync) SubmitProgression(connectionID string, chords []string) error {
	if connectionID == "" {
		return fmt.Errorf("connection id is required")
	}

	s.writeMu.Lock()
	ids := s.submittedIDs()
	for _, id := range ids {
		if id == connectionID {
			s.writeMu.Unlock()
			return nil
		}
	}

	// The record is published before the id: completion observers watching
	// the submitted register always find a full record.
	records := append(s.records(), progressionRecord{
		ConnectionID: connectionID,
		Chords:       append([]string(nil), chords...),
	})
	s.muteWatch.Store(true)
	if err := s.setJSON(s.progressions, records); err != nil {
		s.muteWatch.Store(false)
		s.writeMu.Unlock()
		return fmt.Errorf("store progression: %w", err)
	}
	if err := s.setJSON(s.submitted, append(ids, connectionID)); err != nil {
		s.muteWatch.Store(false)
		s.writeMu.Unlock()
		return fmt.Errorf("store submission: %w", err)
	}
	s.muteWatch.Store(false)
	s.writeMu.Unlock()

	s.broadcastSubmitted(connectionID, len(chords))
	_ = s.cfg.Telemetry.Emit(context.Background(), storage.TelemetryEvent{
		EventName:    EventProgressionSubmitted,
		SessionID:    s.cfg.SessionID,
		ConnectionID: connectionID,
		Attributes:   map[string]any{"chordCount": len(chords)},
	})
	s.CheckAllSubmitted()
	return nil
}

// broadcastSubmitted sends the informational submission event. Failures are
// logged and ignored; the event is not required for correctness.
func (s *Sync) broadcastSubmitted(connectionID string, chordCount int) {
	if s.cfg.Conn == nil {
		return
	}
	payload, err := json.Marshal(SubmittedEvent{ConnectionID: connectionID, ChordCount: chordCount})
	if err != nil {
		s.logger.Printf("encode submitted event: %v", err)
		return
	}
	if err := s.cfg.Conn.SendEvent(EventProgressionSubmitted, payload); err != nil {
		s.logger.Printf("broadcast submitted event: %v", err)
	}
}

// CheckAllSubmitted compares the submitted set against the current roster
// and completes the session when the roster is covered. The set comparison
// stays correct when a submitter leaves and is replaced by a non-submitter,
// which a bare count comparison would miss.
func (s *Sync) CheckAllSubmitted() {
	roster := s.cfg.Registry.Users()
	if len(roster) == 0 {
		return
	}
	submitted := make(map[string]struct{})
	for _, id := range s.SubmittedConnectionIDs() {
		submitted[id] = struct{}{}
	}
	for _, user := range roster {
		if _, ok := submitted[user.ConnectionID]; !ok {
			return
		}
	}
	s.complete()
}

// complete flips the phase register and invokes the all-submitted handler.
// Both happen exactly once per session regardless of how often completion is
// re-detected, locally or via a remote phase flip.
func (s *Sync) complete() {
	s.stateMu.Lock()
	if s.completed {
		s.stateMu.Unlock()
		return
	}
	s.completed = true
	s.stateMu.Unlock()

	if s.SessionPhase() != domain.PhaseDisplay {
		if err := s.phase.SetPendingValue(strconv.Itoa(int(domain.PhaseDisplay))); err != nil {
			s.logger.Printf("set session phase: %v", err)
		}
	}
	s.logger.Printf("session %s: all participants submitted", s.cfg.SessionID)
	_ = s.cfg.Telemetry.Emit(context.Background(), storage.TelemetryEvent{
		EventName: "session.allSubmitted",
		SessionID: s.cfg.SessionID,
	})
	if s.cfg.OnAllSubmitted != nil {
		s.cfg.OnAllSubmitted()
	}
}

// onPhaseValue observes phase register changes so a remote completion is
// honored without waiting for any event delivery.
func (s *Sync) onPhaseValue(value string) {
	if phase, ok := parsePhase(value); ok && phase == domain.PhaseDisplay {
		s.complete()
	}
}

// Progression returns the chords a connection submitted, or nil when the
// connection has not submitted.
func (s *Sync) Progression(connectionID string) []string {
	for _, record := range s.records() {
		if record.ConnectionID == connectionID {
			return append([]string(nil), record.Chords...)
		}
	}
	return nil
}

// SubmittedConnectionIDs returns the connection ids that have submitted, in
// submission order.
func (s *Sync) SubmittedConnectionIDs() []string {
	return s.submittedIDs()
}

// SessionPhase returns the replicated session phase. An unwritten or
// malformed register reads as PhaseCollecting.
func (s *Sync) SessionPhase() domain.Phase {
	if phase, ok := parsePhase(s.phase.CurrentOrPendingValue()); ok {
		return phase
	}
	return domain.PhaseCollecting
}

// SetLabelConfigOwner claims label-config ownership for a connection. First
// writer wins: once the register is non-empty, later claims are ignored
// without negotiation. Two claims racing at the same register generation are
// resolved by the register layer's last-write-wins rule.
func (s *Sync) SetLabelConfigOwner(connectionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.owner.CurrentOrPendingValue() != "" {
		return nil
	}
	if err := s.owner.SetPendingValue(connectionID); err != nil {
		return fmt.Errorf("claim label config owner: %w", err)
	}
	return nil
}

// LabelConfigOwner returns the owning connection id, or "" when unclaimed.
func (s *Sync) LabelConfigOwner() string {
	return s.owner.CurrentOrPendingValue()
}

// MixProgressions broadcasts a combination of two participants'
// progressions for the display manager.
func (s *Sync) MixProgressions(connectionIDA, connectionIDB string, mixed []string) error {
	if s.cfg.Conn == nil {
		return fmt.Errorf("connection is required")
	}
	payload, err := json.Marshal(MixEvent{
		ConnectionIDA: connectionIDA,
		ConnectionIDB: connectionIDB,
		Chords:        mixed,
	})
	if err != nil {
		return fmt.Errorf("encode mix event: %w", err)
	}
	if err := s.cfg.Conn.SendEvent(EventProgressionMixed, payload); err != nil {
		return fmt.Errorf("broadcast mix event: %w", err)
	}
	return nil
}

func (s *Sync) submittedIDs() []string {
	value := s.submitted.CurrentOrPendingValue()
	if value == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		s.logger.Printf("decode submitted users: %v", err)
		return nil
	}
	return ids
}

func (s *Sync) records() []progressionRecord {
	value := s.progressions.CurrentOrPendingValue()
	if value == "" {
		return nil
	}
	var records []progressionRecord
	if err := json.Unmarshal([]byte(value), &records); err != nil {
		s.logger.Printf("decode progressions: %v", err)
		return nil
	}
	return records
}

func (s *Sync) setJSON(reg realtime.Register, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return reg.SetPendingValue(string(payload))
}

func parsePhase(value string) (domain.Phase, bool) {
	if value == "" {
		return domain.PhaseCollecting, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return domain.PhaseCollecting, false
	}
	phase := domain.Phase(n)
	if !phase.IsValid() {
		return domain.PhaseCollecting, false
	}
	return phase, true
}
