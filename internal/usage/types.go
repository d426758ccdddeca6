// Package usage records one row per resolution attempt for operational
// visibility: which keys and models are actually serving traffic and which
// are failing.
package usage

import (
	"context"
	"time"
)

// Attempt is one (credential, model, transport) trial. The credential is
// carried in masked form only.
type Attempt struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Backend   string    `json:"backend"`
	KeyMask   string    `json:"key_mask"`
	Model     string    `json:"model"`
	Mode      string    `json:"mode"` // "oneshot", "stream" or "warmup"
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latency_ms"`
}

// Sink accepts attempt records. The engine writes through this interface so
// tests can capture attempts without a database.
type Sink interface {
	Record(a *Attempt)
}

// Store persists batches of attempts.
type Store interface {
	WriteBatch(ctx context.Context, attempts []*Attempt) error
	Close() error
}

// Config controls the buffered logger.
type Config struct {
	BufferSize    int
	FlushInterval time.Duration
}
