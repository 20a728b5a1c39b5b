// Package session provides the per-identity transient conversation state.
//
// State is organized as namespaced bags: each flow owns one bag keyed by its
// name and may only read and clear its own namespace. A single ActiveFlow
// marker records which flow currently owns the conversation. This replaces a
// flat shared field bag so one flow's cleanup can never disturb another's
// fields.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultInactivityTTL is how long a session survives without activity.
const DefaultInactivityTTL = 10 * time.Minute

// Bag holds one flow's private key/value state, including its step marker
// for multi-turn wizards.
type Bag map[string]string

// State is the transient conversation state for one identity. It is created
// on first contact and swept after the inactivity TTL elapses.
//
// At most one message per identity is processed at a time (a documented
// precondition of the dispatcher), so State itself needs no internal locking.
type State struct {
	ActiveFlow   string
	Bags         map[string]Bag
	LastActivity time.Time
}

// Get returns the value stored under key in the owner flow's namespace.
func (s *State) Get(owner, key string) string {
	if bag, ok := s.Bags[owner]; ok {
		return bag[key]
	}
	return ""
}

// Set stores a value in the owner flow's namespace, creating the bag if
// needed.
func (s *State) Set(owner, key, value string) {
	if s.Bags == nil {
		s.Bags = make(map[string]Bag)
	}
	bag, ok := s.Bags[owner]
	if !ok {
		bag = make(Bag)
		s.Bags[owner] = bag
	}
	bag[key] = value
}

// Step returns the owner flow's wizard step marker.
func (s *State) Step(owner string) string {
	return s.Get(owner, "step")
}

// SetStep records the owner flow's wizard step marker.
func (s *State) SetStep(owner, step string) {
	s.Set(owner, "step", step)
}

// ClearNamespace removes the owner flow's bag and releases conversation
// ownership if that flow held it. Other flows' bags are untouched.
func (s *State) ClearNamespace(owner string) {
	delete(s.Bags, owner)
	if s.ActiveFlow == owner {
		s.ActiveFlow = ""
	}
}

// Store holds session state keyed by channel address.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*State
	ttl      time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the inactivity TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*State),
		ttl:      DefaultInactivityTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the session for the identity, creating a fresh one if none
// exists or the existing one has gone stale. Access refreshes LastActivity.
func (s *Store) Get(phoneNumber string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	state, ok := s.sessions[phoneNumber]
	if !ok || now.Sub(state.LastActivity) >= s.ttl {
		if ok {
			slog.Debug("Session store replacing stale session", "phone", phoneNumber)
		}
		state = &State{Bags: make(map[string]Bag), LastActivity: now}
		s.sessions[phoneNumber] = state
		return state
	}
	state.LastActivity = now
	return state
}

// Peek returns the session without refreshing activity, or nil if absent.
func (s *Store) Peek(phoneNumber string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[phoneNumber]
}

// Clear removes the identity's session entirely.
func (s *Store) Clear(phoneNumber string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, phoneNumber)
}

// Sweep removes sessions whose inactivity TTL has elapsed and returns the
// identities that were evicted. Wired to the maintenance scheduler.
func (s *Store) Sweep() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var evicted []string
	for phone, state := range s.sessions {
		if now.Sub(state.LastActivity) >= s.ttl {
			delete(s.sessions, phone)
			evicted = append(evicted, phone)
		}
	}
	if len(evicted) > 0 {
		slog.Info("Session store swept stale sessions", "count", len(evicted))
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
