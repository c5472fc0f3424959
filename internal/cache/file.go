package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
)

// FileStore keeps one JSON file per key so that separate processes on the
// same host share cached secrets.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	clock   clock.Clock
}

// NewFileStore creates a file-based store rooted at baseDir.
func NewFileStore(baseDir string, opts ...Option) *FileStore {
	o := buildOptions(opts)
	return &FileStore{baseDir: baseDir, clock: o.clock}
}

// DefaultDir returns the default cache directory.
func DefaultDir() string {
	if dir := os.Getenv("AKV_CACHE_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "akv")
	}
	return filepath.Join(os.TempDir(), "akv")
}

// Dir returns the directory entries are written to.
func (fs *FileStore) Dir() string {
	return fs.baseDir
}

func (fs *FileStore) path(key string) string {
	return filepath.Join(fs.baseDir, url.PathEscape(key)+".json")
}

// Get reads the entry for key. Unreadable files are reported as errors;
// the caller decides whether to fall back to the vault.
func (fs *FileStore) Get(_ context.Context, key string) (Entry, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal cache entry %q: %w", key, err)
	}
	if entry.Expired(fs.clock.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put writes the entry atomically.
func (fs *FileStore) Put(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.Marshal(Entry{Key: key, Value: value, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(fs.baseDir, ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to set cache file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path(key)); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (fs *FileStore) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}
