// Package writebuffer implements the engine's write-side batching: a
// size/age-triggered write buffer with last-writer-wins coalescing, and
// a request coalescer that deduplicates concurrent reads of the same id.
package writebuffer

import (
	"context"
	"sync"
	"time"
)

// FlushFunc is called with the deduplicated batch of entries when a
// flush triggers, keyed by id so the caller's persistence layer can do a
// single batched write.
type FlushFunc func(ctx context.Context, entries map[string][]byte) error

// Config bounds the write buffer's size and age triggers.
type Config struct {
	MaxSize int
	MaxAge  time.Duration
}

func DefaultConfig() Config {
	return Config{MaxSize: 500, MaxAge: 250 * time.Millisecond}
}

// Buffer accumulates (id, value) writes and flushes on whichever of
// size, age, or an explicit Flush call comes first. A later write to an
// id already pending replaces the earlier one — last-writer-wins within
// the open batch — so a burst of updates to the same entity only ever
// persists its final value.
type Buffer struct {
	mu        sync.Mutex
	cfg       Config
	pending   map[string][]byte
	onFlush   FlushFunc
	timer     *time.Timer
	closed    bool
}

func New(cfg Config, onFlush FlushFunc) *Buffer {
	if cfg.MaxSize <= 0 || cfg.MaxAge <= 0 {
		cfg = DefaultConfig()
	}
	return &Buffer{cfg: cfg, pending: make(map[string][]byte), onFlush: onFlush}
}

// Put stages (id, value), flushing immediately if the batch has reached
// MaxSize. A fresh age timer starts on the first entry added to an
// otherwise-empty batch.
func (b *Buffer) Put(ctx context.Context, id string, value []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	wasEmpty := len(b.pending) == 0
	b.pending[id] = value
	shouldFlush := len(b.pending) >= b.cfg.MaxSize
	if wasEmpty && !shouldFlush {
		b.timer = time.AfterFunc(b.cfg.MaxAge, func() { _ = b.Flush(context.Background()) })
	}
	b.mu.Unlock()

	if shouldFlush {
		return b.Flush(ctx)
	}
	return nil
}

// Flush drains whatever is pending and invokes onFlush with it. A no-op
// if nothing is pending.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.pending = make(map[string][]byte)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if b.onFlush == nil {
		return nil
	}
	return b.onFlush(ctx, batch)
}

// Close flushes any remaining entries and stops further writes.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.Flush(ctx)
}

// Peek returns the value currently staged for id, if any — used by
// callers that need read-after-buffered-write consistency without
// waiting for a flush (the storage engine checks it before its cache
// and backend on every read).
func (b *Buffer) Peek(id string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.pending[id]
	return v, ok
}
