package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keychain service entries are filed under.
const DefaultKeyringService = "akv-cache"

// KeyringStore keeps entries in the OS keychain (macOS Keychain, Secret
// Service on Linux, Windows Credential Manager).
type KeyringStore struct {
	service string
	clock   clock.Clock
}

// NewKeyringStore creates a store under service.
func NewKeyringStore(service string, opts ...Option) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	o := buildOptions(opts)
	return &KeyringStore{service: service, clock: o.clock}
}

// Get reads the entry for key from the keychain.
func (s *KeyringStore) Get(_ context.Context, key string) (Entry, bool, error) {
	raw, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("keyring get %q: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("keyring entry %q is corrupt: %w", key, err)
	}
	if entry.Expired(s.clock.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put writes the entry for key.
func (s *KeyringStore) Put(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	data, err := json.Marshal(Entry{Key: key, Value: value, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := keyring.Set(s.service, key, string(data)); err != nil {
		return fmt.Errorf("keyring set %q: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *KeyringStore) Delete(_ context.Context, key string) error {
	if err := keyring.Delete(s.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %q: %w", key, err)
	}
	return nil
}
