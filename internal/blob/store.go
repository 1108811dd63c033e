package blob

import "io"

// HashStore stores blob bytes on disk keyed by their SHA-256 digest.
// Implementations must make Put idempotent: writing bytes for a hash
// that already exists is a no-op.
type HashStore interface {
	// Put persists data under the given hash within a role-organized
	// subtree and returns the absolute path written (or already present).
	Put(hash, role string, data []byte) (string, error)

	// Open returns a reader for the stored bytes.
	Open(hash string) (io.ReadCloser, error)

	// Has reports whether bytes for the hash are present.
	Has(hash string) (bool, error)

	// Root returns the store's base directory ("" for in-memory stores).
	Root() string
}

// Mirror replicates blob bytes to shared storage so peer devices can
// fetch content they discover through the coordination store without a
// device-to-device transfer. Put is idempotent by hash.
type Mirror interface {
	// Put uploads size bytes from r under the hash. Uploading an
	// existing hash is a no-op.
	Put(hash string, r io.Reader, size int64) error

	// Get writes the mirrored bytes to w. Returns a NotFoundError when
	// the hash is not mirrored.
	Get(hash string, w io.Writer) error

	// Has reports whether the hash is mirrored.
	Has(hash string) (bool, error)
}
