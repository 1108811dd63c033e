package hashstore

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

// MemoryStore is an in-memory implementation of the HashStore interface,
// useful for testing. Safe for concurrent use.
type MemoryStore struct {
	objects map[string][]byte // hash -> content
	roles   map[string]string // hash -> role it was stored under
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory hash store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		roles:   make(map[string]string),
	}
}

// Put stores data under the hash. Idempotent: an existing hash is untouched.
func (s *MemoryStore) Put(hash, role string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[hash]; !ok {
		s.objects[hash] = append([]byte(nil), data...)
		s.roles[hash] = role
	}
	return s.path(hash), nil
}

// Open returns a reader for the stored bytes.
func (s *MemoryStore) Open(hash string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[hash]
	if !ok {
		return nil, fmt.Errorf("content not found: %s", blob.ShortID(hash))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Has reports whether bytes for the hash are present.
func (s *MemoryStore) Has(hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[hash]
	return ok, nil
}

// Root returns ""; a memory store has no base directory.
func (s *MemoryStore) Root() string { return "" }

// Delete removes stored bytes. Tests use this to simulate lost local copies.
func (s *MemoryStore) Delete(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, hash)
	delete(s.roles, hash)
}

func (s *MemoryStore) path(hash string) string {
	return "memory://" + s.roles[hash] + "/" + hash
}

// Compile-time check that MemoryStore implements blob.HashStore
var _ blob.HashStore = (*MemoryStore)(nil)
