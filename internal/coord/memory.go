package coord

import (
	"context"
	"sync"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

// MemoryCoordinator is an in-memory implementation of the Coordinator
// interface with the same convergence semantics as the Postgres one:
// metadata rows are create-if-absent, availability rows are last write
// wins. Useful for testing and single-device setups. Safe for
// concurrent use.
type MemoryCoordinator struct {
	meta  map[string]*blob.CoordinationMeta          // sha256 -> metadata
	avail map[string]map[string]*blob.DeviceBlob     // sha256 -> deviceID -> availability
	mu    sync.RWMutex

	// FailWith, when set, makes Publish return this error. Tests use it
	// to simulate an unreachable coordination store.
	FailWith error
}

// NewMemoryCoordinator creates a new in-memory coordinator.
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		meta:  make(map[string]*blob.CoordinationMeta),
		avail: make(map[string]map[string]*blob.DeviceBlob),
	}
}

// Publish applies both rows with the same idempotency contract as Postgres.
func (c *MemoryCoordinator) Publish(_ context.Context, meta *blob.CoordinationMeta, avail *blob.DeviceBlob) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailWith != nil {
		return c.FailWith
	}

	if _, ok := c.meta[meta.SHA256]; !ok {
		clone := *meta
		c.meta[meta.SHA256] = &clone
	}

	devices, ok := c.avail[avail.SHA256]
	if !ok {
		devices = make(map[string]*blob.DeviceBlob)
		c.avail[avail.SHA256] = devices
	}
	clone := *avail
	devices[avail.DeviceID] = &clone

	return nil
}

// FindMeta returns the metadata row for a hash, or (nil, nil) when absent.
func (c *MemoryCoordinator) FindMeta(_ context.Context, sha256 string) (*blob.CoordinationMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.meta[sha256]
	if !ok {
		return nil, nil
	}
	clone := *m
	return &clone, nil
}

// DevicesForBlob returns the availability rows for a hash.
func (c *MemoryCoordinator) DevicesForBlob(_ context.Context, sha256 string) ([]*blob.DeviceBlob, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var devices []*blob.DeviceBlob
	for _, d := range c.avail[sha256] {
		clone := *d
		devices = append(devices, &clone)
	}
	return devices, nil
}

// MetaCount returns the number of metadata rows. Tests only.
func (c *MemoryCoordinator) MetaCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.meta)
}

// Close is a no-op for the memory coordinator.
func (c *MemoryCoordinator) Close() error { return nil }

// Compile-time check that MemoryCoordinator implements blob.Coordinator
var _ blob.Coordinator = (*MemoryCoordinator)(nil)
