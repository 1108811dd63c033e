package blob

// Catalog provides an interface for local blob metadata storage.
// Lookups return (nil, nil) when the record does not exist.
type Catalog interface {
	// Blob operations

	// InsertBlob creates a catalog record for a blob. Inserting a hash
	// that already exists is an error; callers check first.
	InsertBlob(b *Blob) error

	// FindBlobBySHA256 returns the catalog record for a hash.
	FindBlobBySHA256(sha256 string) (*Blob, error)

	// ListBlobs returns all catalog records.
	ListBlobs() ([]*Blob, error)

	// ListBlobsWithPaths returns all catalog records joined with their
	// most recently recorded path.
	ListBlobsWithPaths() ([]*BlobWithPath, error)

	// DeleteBlob removes the blob record and its path records.
	// It never touches bytes on disk.
	DeleteBlob(sha256 string) error

	// UpdateFilename updates the recorded filename for a blob.
	UpdateFilename(sha256, filename string) error

	// UpdateHealth updates the health state for a blob.
	UpdateHealth(sha256 string, health Health) error

	// Path operations

	// InsertPath records a filesystem location for a hash. Recording the
	// same (hash, path) pair again refreshes its timestamp.
	InsertPath(sha256, path string, recordedMS int64) error

	// FindPathsBySHA256 returns all recorded paths for a hash,
	// most recently recorded first.
	FindPathsBySHA256(sha256 string) ([]*PathRecord, error)

	// Coordination outbox

	// EnqueueCoordination records a pending coordination publish.
	// Enqueuing the same (sha256, deviceID) pair again replaces the
	// pending payload.
	EnqueueCoordination(e *OutboxEntry) error

	// PendingCoordination returns up to limit pending publishes,
	// oldest first.
	PendingCoordination(limit int) ([]*OutboxEntry, error)

	// DeleteCoordination removes an outbox entry after a successful publish.
	DeleteCoordination(id int64) error

	// MarkCoordinationAttempt increments the attempt counter for an entry.
	MarkCoordinationAttempt(id int64, attemptMS int64) error

	// Aggregates

	// HealthReport returns per-health counts and the total stored size.
	HealthReport() (*HealthReport, error)

	// Operation tracking

	// CreateOperation records the start of a mutating operation and
	// returns its id.
	CreateOperation(operation, parameters string) (int64, error)

	// FinishOperation records the end of an operation with its status.
	FinishOperation(id int64, status string) error

	// Close closes the catalog.
	Close() error
}
