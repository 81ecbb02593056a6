package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists every document in one JSON object keyed by identity.
type FileStore struct {
	path string

	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("profile state file path is required")
	}
	s := &FileStore{
		path: path,
		docs: make(map[string]json.RawMessage),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, id string) (Profile, error) {
	s.mu.RLock()
	raw, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return Profile{}, ErrNotFound
	}
	return Decode(id, raw)
}

func (s *FileStore) Put(_ context.Context, id string, p Profile) error {
	if err := validateKey(id); err != nil {
		return err
	}
	raw, err := Encode(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.docs[id]
	s.docs[id] = raw
	if err := s.persistLocked(); err != nil {
		if existed {
			s.docs[id] = prev
		} else {
			delete(s.docs, id)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.docs[id]
	if !ok {
		return nil
	}
	delete(s.docs, id)
	if err := s.persistLocked(); err != nil {
		s.docs[id] = prev
		return err
	}
	return nil
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read profile state: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &s.docs); err != nil {
		return fmt.Errorf("decode profile state: %w", err)
	}
	if s.docs == nil {
		s.docs = make(map[string]json.RawMessage)
	}
	return nil
}

func (s *FileStore) persistLocked() error {
	b, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir profile state dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write profile state: %w", err)
	}
	return nil
}
