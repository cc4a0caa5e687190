// Package changesink models the "backing store" collaborator that
// spec.md treats as external to the overlay: it receives the ordered
// (key, optional-value) pairs a Changeset yields from DrainCommitted
// and applies them, in order, as the final write set for a block.
package changesink

import (
	"context"
	"fmt"
	"sync"

	"github.com/mnohosten/stateoverlay/pkg/overlay"
)

// Backend is anything that can apply a drained, ordered mutation batch.
// A present mutation means "set Key to Value"; an absent one means
// "delete Key". Implementations must apply mutations in the order given
// - that order is lexicographic by key, per spec §6.
type Backend interface {
	Apply(ctx context.Context, mutations []overlay.Mutation) error
}

// MemBackend is a trivial in-memory Backend, useful for tests and
// demos standing in for a real storage engine (the database backends
// spec §1 explicitly keeps out of scope for the overlay itself).
type MemBackend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{data: make(map[string][]byte)}
}

// Apply applies mutations in order, deleting keys whose Present is false.
// It fails with ErrBackendClosed once Close has been called - mirroring
// how a real storage handle rejects writes after shutdown.
func (b *MemBackend) Apply(_ context.Context, mutations []overlay.Mutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	for _, m := range mutations {
		if !m.Present {
			delete(b.data, string(m.Key))
			continue
		}
		b.data[string(m.Key)] = append([]byte(nil), m.Value...)
	}
	return nil
}

// Close marks the backend as no longer accepting writes. Reads remain
// valid after Close.
func (b *MemBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Get returns the current value for key and whether it exists.
func (b *MemBackend) Get(key []byte) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[string(key)]
	return v, ok
}

// Len reports how many keys the backend currently holds.
func (b *MemBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// ErrBackendClosed is returned by a Backend that no longer accepts writes.
var ErrBackendClosed = fmt.Errorf("changesink: backend is closed")
