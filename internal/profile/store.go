package profile

import (
	"context"
	"sync"
)

// MemoryStore keeps raw documents, so a malformed document can be seeded
// with PutRaw.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Profile, error) {
	s.mu.RLock()
	raw, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return Profile{}, ErrNotFound
	}
	return Decode(id, raw)
}

func (s *MemoryStore) Put(_ context.Context, id string, p Profile) error {
	if err := validateKey(id); err != nil {
		return err
	}
	raw, err := Encode(p)
	if err != nil {
		return err
	}
	s.PutRaw(id, raw)
	return nil
}

func (s *MemoryStore) PutRaw(id string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = append([]byte(nil), raw...)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}
