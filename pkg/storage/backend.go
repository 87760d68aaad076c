// ABOUTME: Storage boundary consumed by the revision store
// ABOUTME: Backend contract plus the shared in-memory implementation

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nainya/boltindex/pkg/errs"
)

// Backend stores opaque blobs under string keys. Retrieve and RetrieveRange
// return an error wrapping errs.ErrNotFound for missing keys.
type Backend interface {
	Store(ctx context.Context, key string, data []byte) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	// SupportsPartialRetrieval reports whether RetrieveRange reads only the range
	SupportsPartialRetrieval() bool
	RetrieveRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	Name() string
	Close() error
}

func notFound(key string) error {
	return fmt.Errorf("key %s: %w", key, errs.ErrNotFound)
}

// sliceRange cuts [offset, offset+length) out of data, clamped to its end
func sliceRange(key string, data []byte, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset > int64(len(data)) {
		return nil, fmt.Errorf("key %s: range %d+%d outside %d bytes: %w", key, offset, length, len(data), ErrTruncated)
	}
	end := min(offset+length, int64(len(data)))
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

// Memory keeps blobs in a map
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Store(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.blobs[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) SupportsPartialRetrieval() bool { return true }

func (m *Memory) RetrieveRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(key)
	}
	return sliceRange(key, data, offset, length)
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Close() error { return nil }
