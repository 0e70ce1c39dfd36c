package apikeys

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe key store. Keys do not survive a
// restart; it is meant for tests and single-process development.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by digest
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

// Create generates and stores a new active key.
func (s *MemoryStore) Create(_ context.Context, name string) (*APIKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	return s.Put(key, name, true), nil
}

// Put stores a caller-chosen key.
func (s *MemoryStore) Put(key, name string, active bool) *APIKey {
	k := &APIKey{
		ID:        uuid.New(),
		Name:      name,
		IsActive:  active,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.keys[Digest(key)] = k
	s.mu.Unlock()

	out := *k
	out.Key = key
	return &out
}

// Lookup returns a copy of the stored key.
func (s *MemoryStore) Lookup(_ context.Context, key string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[Digest(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *k
	return &out, nil
}

// TouchLastUsed records at as the key's last use.
func (s *MemoryStore) TouchLastUsed(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[Digest(key)]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	k.LastUsedAt = &at
	return nil
}

// Deactivate marks a key inactive.
func (s *MemoryStore) Deactivate(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[Digest(key)]
	if !ok {
		return ErrNotFound
	}
	k.IsActive = false
	return nil
}
