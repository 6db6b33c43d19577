package wsbridge

import (
	"sync"

	"github.com/lenslabs/chordfield/internal/realtime"
)

// Store is the client-side cache of a replicated store, kept current by
// registerChanged and put frames.
type Store struct {
	conn         *Conn
	networkID    string
	scope        realtime.StoreScope
	name         string
	owner        realtime.UserInfo
	creationInfo string

	mu        sync.Mutex
	values    map[string]string
	registers map[string]*register
}

// NetworkID implements realtime.Store.
func (s *Store) NetworkID() string { return s.networkID }

// Scope implements realtime.Store.
func (s *Store) Scope() realtime.StoreScope { return s.scope }

// Put implements realtime.Store: optimistic local write plus a put frame.
func (s *Store) Put(key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return s.conn.writeFrame(frame{Type: framePut, NetworkID: s.networkID, Key: key, Value: value})
}

// Get implements realtime.Store from the local cache.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

// Register implements realtime.Store.
func (s *Store) Register(key string) realtime.Register {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registers[key]
	if !ok {
		reg = &register{store: s, key: key}
		s.registers[key] = reg
	}
	return reg
}

func (s *Store) applyPut(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *Store) applyRegisterChange(key, value string) {
	s.mu.Lock()
	reg, ok := s.registers[key]
	if !ok {
		reg = &register{store: s, key: key}
		s.registers[key] = reg
	}
	reg.value = value
	subs := make([]func(string), len(reg.subs))
	copy(subs, reg.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// register is the client view of a replicated value. The optimistic value is
// replaced whenever the service confirms or supersedes it.
type register struct {
	store *Store
	key   string
	value string
	subs  []func(string)
}

func (r *register) CurrentOrPendingValue() string {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.value
}

func (r *register) SetPendingValue(value string) error {
	r.store.mu.Lock()
	r.value = value
	r.store.mu.Unlock()
	return r.store.conn.writeFrame(frame{
		Type:      frameSetRegister,
		NetworkID: r.store.networkID,
		Key:       r.key,
		Value:     value,
	})
}

func (r *register) OnChange(fn func(string)) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.subs = append(r.subs, fn)
}
