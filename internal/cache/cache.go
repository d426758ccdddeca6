// Package cache persists the warm-up result so restarts skip cold validation.
// Supports a local file for single instances and Redis for multi-instance
// deployments.
package cache

import (
	"context"
	"time"
)

// WarmupEntry is the cached known-good (credential, model) pair. The
// credential is identified by its digest, never by the raw secret; on load
// the digest is matched against the configured pool and the entry is dropped
// if the key is no longer present.
type WarmupEntry struct {
	Backend   string    `json:"backend"`
	KeyDigest string    `json:"key_digest"`
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache stores the warm-up entry. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get retrieves the cached entry. Returns nil, nil if none exists yet.
	Get(ctx context.Context) (*WarmupEntry, error)

	// Set stores the entry.
	Set(ctx context.Context, entry *WarmupEntry) error

	// Close releases any resources held by the cache.
	Close() error
}
