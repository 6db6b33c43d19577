package realtimetest

import "github.com/lenslabs/chordfield/internal/realtime"

// Store is an in-memory replicated store shared by every connection of a
// session.
type Store struct {
	svc          *Service
	networkID    string
	scope        realtime.StoreScope
	name         string
	owner        realtime.UserInfo
	creationInfo string
	values       map[string]string
	registers    map[string]*register
}

// NetworkID implements realtime.Store.
func (s *Store) NetworkID() string { return s.networkID }

// Scope implements realtime.Store.
func (s *Store) Scope() realtime.StoreScope { return s.scope }

// Put implements realtime.Store.
func (s *Store) Put(key, value string) error {
	s.svc.mu.Lock()
	defer s.svc.mu.Unlock()
	s.values[key] = value
	return nil
}

// Get implements realtime.Store.
func (s *Store) Get(key string) (string, bool) {
	s.svc.mu.Lock()
	defer s.svc.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

// Register implements realtime.Store. All connections share one replicated
// value per key; subscribers from every connection observe each write.
func (s *Store) Register(key string) realtime.Register {
	s.svc.mu.Lock()
	defer s.svc.mu.Unlock()
	reg, ok := s.registers[key]
	if !ok {
		reg = &register{store: s, key: key}
		s.registers[key] = reg
	}
	return reg
}

// register applies writes immediately (the confirmed value equals the
// pending value) which satisfies the optimistic-read contract.
type register struct {
	store *Store
	key   string
	value string
	subs  []func(string)
}

func (r *register) CurrentOrPendingValue() string {
	r.store.svc.mu.Lock()
	defer r.store.svc.mu.Unlock()
	return r.value
}

func (r *register) SetPendingValue(value string) error {
	r.store.svc.mu.Lock()
	r.value = value
	subs := make([]func(string), len(r.subs))
	copy(subs, r.subs)
	r.store.svc.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
	return nil
}

func (r *register) OnChange(fn func(string)) {
	r.store.svc.mu.Lock()
	defer r.store.svc.mu.Unlock()
	r.subs = append(r.subs, fn)
}
