// Package credential holds the per-backend API key pool.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Credential is one provider API key. The raw value is never logged; use
// Mask for diagnostics.
type Credential struct {
	Backend string
	Key     string
}

// Mask returns a fixed-format redacted form of the key (first 6 / last 4
// characters) suitable for logs.
func (c Credential) Mask() string {
	if len(c.Key) > 10 {
		return c.Key[:6] + "..." + c.Key[len(c.Key)-4:]
	}
	return "***"
}

// Digest returns a short non-reversible fingerprint of the key. It identifies
// a credential in the persisted warm-up cache without storing the secret.
func (c Credential) Digest() string {
	sum := sha256.Sum256([]byte(c.Key))
	return hex.EncodeToString(sum[:8])
}

// Pool is the ordered, deduplicated set of credentials per backend. It is
// populated once at startup and read-only afterwards, so no locking is
// needed on the request path.
type Pool struct {
	byBackend map[string][]Credential
	seen      map[string]map[string]struct{}
}

// NewPool creates an empty pool. An empty pool is a valid, reportable state,
// not an error.
func NewPool() *Pool {
	return &Pool{
		byBackend: make(map[string][]Credential),
		seen:      make(map[string]map[string]struct{}),
	}
}

// Add appends keys for a backend, preserving first-seen order and collapsing
// duplicates within the backend. Empty and whitespace-only keys are ignored.
func (p *Pool) Add(backend string, keys ...string) {
	seen := p.seen[backend]
	if seen == nil {
		seen = make(map[string]struct{})
		p.seen[backend] = seen
	}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		p.byBackend[backend] = append(p.byBackend[backend], Credential{Backend: backend, Key: k})
	}
}

// AddList splits a delimited key list and adds each entry.
func (p *Pool) AddList(backend, list, sep string) {
	if list == "" {
		return
	}
	p.Add(backend, strings.Split(list, sep)...)
}

// Credentials returns the ordered credentials for a backend. The returned
// slice is a copy; callers may not mutate pool state through it.
func (p *Pool) Credentials(backend string) []Credential {
	src := p.byBackend[backend]
	out := make([]Credential, len(src))
	copy(out, src)
	return out
}

// Len returns the number of credentials held for a backend.
func (p *Pool) Len(backend string) int {
	return len(p.byBackend[backend])
}

// Masked returns the redacted forms of every credential for a backend, in
// priority order. Used for startup diagnostics.
func (p *Pool) Masked(backend string) []string {
	creds := p.byBackend[backend]
	out := make([]string, len(creds))
	for i, c := range creds {
		out[i] = c.Mask()
	}
	return out
}
