package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Logger provides async buffered attempt logging with batch writes. Records
// are collected in a channel and flushed to the store when the batch fills
// or at the flush interval, so the request path never blocks on the store.
type Logger struct {
	store         Store
	buffer        chan *Attempt
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup
	flushInterval time.Duration
	closed        atomic.Bool
}

// NewLogger creates an async buffered Logger and starts its flush goroutine.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		buffer:        make(chan *Attempt, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Record queues an attempt for async writing. Non-blocking: if the buffer is
// full or the logger is closed, the record is dropped with a warning.
func (l *Logger) Record(a *Attempt) {
	if a == nil {
		return
	}
	if l.closed.Load() {
		return
	}

	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have flipped the flag between the first check and Add.
	if l.closed.Load() {
		return
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	select {
	case l.buffer <- a:
	default:
		slog.Warn("attempt log buffer full, dropping record",
			"backend", a.Backend,
			"model", a.Model,
		)
	}
}

// Close stops the logger and flushes remaining records. Idempotent.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	// Wait for in-flight Record calls before closing the buffer.
	l.writes.Wait()
	close(l.buffer)

	close(l.done)
	l.wg.Wait()
	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*Attempt, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := l.store.WriteBatch(ctx, batch); err != nil {
			slog.Warn("failed to flush attempt log batch", "error", err, "count", len(batch))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case a, ok := <-l.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, a)
			if len(batch) >= cap(batch) {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			// Drain whatever is queued, then flush once.
			for {
				select {
				case a, ok := <-l.buffer:
					if !ok {
						flush()
						return
					}
					batch = append(batch, a)
				default:
					flush()
					return
				}
			}
		}
	}
}
