package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/juju/clock"
)

type sealedEntry struct {
	enclave   *memguard.Enclave
	expiresAt time.Time
}

// MemoryStore keeps entries in process memory. Values are sealed in
// memguard enclaves so plaintext secrets are encrypted at rest in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]sealedEntry
	clock   clock.Clock
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		entries: make(map[string]sealedEntry),
		clock:   o.clock,
	}
}

// Get returns the live entry for key.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	sealed, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || !s.clock.Now().Before(sealed.expiresAt) {
		return Entry{}, false, nil
	}

	entry := Entry{Key: key, ExpiresAt: sealed.expiresAt, Value: []byte{}}
	if sealed.enclave == nil {
		return entry, true, nil
	}

	locked, err := sealed.enclave.Open()
	if err != nil {
		return Entry{}, false, fmt.Errorf("open cache entry %q: %w", key, err)
	}
	defer locked.Destroy()

	entry.Value = append([]byte(nil), locked.Bytes()...)
	return entry, true, nil
}

// Put seals a copy of value under key.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	sealed := sealedEntry{expiresAt: expiresAt}
	if len(value) > 0 {
		// NewEnclave wipes its input.
		sealed.enclave = memguard.NewEnclave(append([]byte(nil), value...))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = sealed
	return nil
}

// Delete drops key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Purge removes expired entries and returns how many were dropped.
func (s *MemoryStore) Purge() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
