// Package memory is an in-process credential backend. State is lost when the
// process exits.
package memory

import (
	"context"
	"sync"
)

// Backend keeps credential values in a map.
type Backend struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{values: map[string]string{}}
}

// Load returns a copy of the stored values.
func (b *Backend) Load(context.Context) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out, nil
}

// Save writes all values at once.
func (b *Backend) Save(_ context.Context, values map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range values {
		b.values[k] = v
	}
	return nil
}

// Delete removes keys. Missing keys are ignored.
func (b *Backend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.values, k)
	}
	return nil
}
