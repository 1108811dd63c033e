package mirror

import (
	"fmt"
	"io"
	"sync"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

// MemoryMirror is an in-memory implementation of the Mirror interface,
// useful for testing. Safe for concurrent use.
type MemoryMirror struct {
	// FailWith, when set, makes Get return this error. Tests use it to
	// simulate mirror outages.
	FailWith error

	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryMirror creates a new in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{objects: make(map[string][]byte)}
}

// Put stores size bytes from r under the hash. Idempotent.
func (m *MemoryMirror) Put(hash string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[hash]; !ok {
		m.objects[hash] = data
	}
	return nil
}

// Get writes the mirrored bytes to w.
func (m *MemoryMirror) Get(hash string, w io.Writer) error {
	if m.FailWith != nil {
		return m.FailWith
	}

	m.mu.RLock()
	data, ok := m.objects[hash]
	m.mu.RUnlock()

	if !ok {
		return &blob.NotFoundError{Kind: "blob", ID: hash}
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Has reports whether the hash is mirrored.
func (m *MemoryMirror) Has(hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[hash]
	return ok, nil
}

// Len returns the number of mirrored objects. Tests only.
func (m *MemoryMirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Compile-time check that MemoryMirror implements blob.Mirror
var _ blob.Mirror = (*MemoryMirror)(nil)
