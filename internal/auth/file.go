package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
)

// ErrNoCachedToken is returned when no token cache file exists yet.
var ErrNoCachedToken = errors.New("no cached token found")

const lockAcquireTimeout = 10 * time.Second

// DefaultTokenPath returns the default location of the on-disk token
// cache. The file holds credentials and must never land in a repository.
func DefaultTokenPath() string {
	return filepath.Join(xdg.CacheHome, "graphmail", "token.json")
}

// FileCache persists a token to a JSON file with owner-only permissions.
// A sibling lock file guards against concurrent writers from multiple
// processes sharing the cache.
type FileCache struct {
	path     string
	lockPath string
}

// NewFileCache creates a file-backed token cache at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path, lockPath: path + ".lock"}
}

// Path returns the cache file location.
func (f *FileCache) Path() string {
	return f.path
}

// Load reads the cached token. It performs no validity check; the Store
// applies the same expiry margin to loaded tokens as to fresh ones.
func (f *FileCache) Load() (Token, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Token{}, ErrNoCachedToken
		}
		return Token{}, fmt.Errorf("read token cache: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, fmt.Errorf("parse token cache: %w", err)
	}
	return token, nil
}

// Save writes the token atomically under the file lock.
func (f *FileCache) Save(token Token) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create token cache directory: %w", err)
	}

	lock := flock.New(f.lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), lockAcquireTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire token cache lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire token cache lock: timeout")
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace token cache: %w", err)
	}
	return nil
}

// Clear removes the cache and lock files. Missing files are not an error.
func (f *FileCache) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token cache: %w", err)
	}
	if err := os.Remove(f.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token cache lock: %w", err)
	}
	return nil
}
