package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalCache implements Cache using a local file. Suitable for
// single-instance deployments.
type LocalCache struct {
	mu       sync.RWMutex
	filePath string
}

// NewLocalCache creates a file-backed cache. An empty path disables
// persistence (Get returns nil, Set is a no-op).
func NewLocalCache(filePath string) *LocalCache {
	return &LocalCache{filePath: filePath}
}

// Get retrieves the warm-up entry from the file.
func (c *LocalCache) Get(ctx context.Context) (*WarmupEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.filePath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // no cache yet, not an error
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry WarmupEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	return &entry, nil
}

// Set stores the entry, writing atomically via temp file + rename.
func (c *LocalCache) Set(ctx context.Context, entry *WarmupEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" || entry == nil {
		return nil
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmpFile := c.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, c.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// Close is a no-op for the file-backed cache.
func (c *LocalCache) Close() error {
	return nil
}
