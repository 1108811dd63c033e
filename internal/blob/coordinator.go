package blob

import "context"

// Coordinator provides an interface to the shared coordination store.
// All writes must be idempotent: no distributed lock spans devices, so
// concurrent multi-device writers and retried calls have to converge on
// the same end state.
type Coordinator interface {
	// Publish writes the per-hash metadata row (create-if-absent) and
	// the per-device availability row (last write wins) in a single
	// transaction.
	Publish(ctx context.Context, meta *CoordinationMeta, avail *DeviceBlob) error

	// FindMeta returns the shared metadata row for a hash, or (nil, nil)
	// when no device has published it.
	FindMeta(ctx context.Context, sha256 string) (*CoordinationMeta, error)

	// DevicesForBlob returns the availability rows for a hash.
	DevicesForBlob(ctx context.Context, sha256 string) ([]*DeviceBlob, error)

	// Close releases the underlying connections.
	Close() error
}
