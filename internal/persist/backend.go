// Package persist provides versioned, schema-validated key-value persistence
// for the ledgers. Every slice is stored as a {version, state} JSON document
// under a namespaced key; corrupt or unreadable documents reset that one
// slice to its default instead of failing the caller.
package persist

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Backend.Read when the key has never been written.
var ErrNotFound = errors.New("persist: key not found")

// Backend is raw byte storage keyed by string.
type Backend interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Delete(key string) error
	Close() error
}

// MemoryBackend keeps documents in process memory. Used for ephemeral
// sessions and tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte

	// WriteErr, when set, is returned by every Write (simulates quota errors).
	WriteErr error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Write(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	v := make([]byte, len(data))
	copy(v, data)
	m.data[key] = v
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Put stores raw bytes directly, bypassing WriteErr. Test helper for seeding
// legacy or corrupt documents.
func (m *MemoryBackend) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
}
