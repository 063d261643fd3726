package connections

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store is the per-user key-value record of connected integrations.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, userID uuid.UUID, key string) (string, bool, error)
	Set(ctx context.Context, userID uuid.UUID, key, value string) error
	Remove(ctx context.Context, userID uuid.UUID, keys ...string) error
	List(ctx context.Context, userID uuid.UUID) (map[string]string, error)
}

// MemoryStore keeps entries in process memory, ideal for local development or tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]map[string]string)}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.entries[userID][key]
	return value, ok, nil
}

// Set stores value under key, replacing any previous value.
func (s *MemoryStore) Set(_ context.Context, userID uuid.UUID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userEntries, ok := s.entries[userID]
	if !ok {
		userEntries = make(map[string]string)
		s.entries[userID] = userEntries
	}
	userEntries[key] = value
	return nil
}

// Remove deletes the given keys. Missing keys are ignored.
func (s *MemoryStore) Remove(_ context.Context, userID uuid.UUID, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userEntries, ok := s.entries[userID]
	if !ok {
		return nil
	}
	for _, key := range keys {
		delete(userEntries, key)
	}
	if len(userEntries) == 0 {
		delete(s.entries, userID)
	}
	return nil
}

// List returns a copy of every entry for the user.
func (s *MemoryStore) List(_ context.Context, userID uuid.UUID) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.entries[userID]))
	for key, value := range s.entries[userID] {
		out[key] = value
	}
	return out, nil
}
