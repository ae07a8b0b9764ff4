// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sync"

	"github.com/transitlive/livemap/internal/storage"
)

// Backend keeps values in process memory. Nothing survives a restart.
type Backend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{values: make(map[string][]byte)}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// Get returns a copy of the value stored under key
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value under key
func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = v
	return nil
}

// Delete removes key
func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}

var _ storage.Backend = (*Backend)(nil)
