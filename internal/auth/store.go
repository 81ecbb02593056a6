package auth

import "sync"

// SessionStore persists the device's current session between runs.
// Load returns nil when nothing is stored.
type SessionStore interface {
	Load() (*Session, error)
	Save(session *Session) error
}

type InMemorySessionStore struct {
	mu      sync.RWMutex
	session *Session
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{}
}

func (s *InMemorySessionStore) Load() (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, nil
	}
	cp := *s.session
	return &cp, nil
}

func (s *InMemorySessionStore) Save(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session == nil {
		s.session = nil
		return nil
	}
	cp := *session
	s.session = &cp
	return nil
}
