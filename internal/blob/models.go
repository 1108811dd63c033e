package blob

// Health describes the state of a device's local copy of a blob.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthMissing   Health = "missing"
	HealthModified  Health = "modified"
	HealthRelocated Health = "relocated"
)

// Valid reports whether h is one of the known health states.
func (h Health) Valid() bool {
	switch h {
	case HealthHealthy, HealthMissing, HealthModified, HealthRelocated:
		return true
	}
	return false
}

// Blob is the local catalog record for an immutable byte sequence.
// Identity is the SHA-256 hex digest of the bytes; storing identical
// bytes twice must converge on a single record.
type Blob struct {
	SHA256    string
	Size      int64
	Mime      string
	Filename  string // empty when unknown (e.g. discovered by scan)
	MtimeMS   int64
	CreatedMS int64
	Health    Health
}

// PathRecord maps a filesystem location to a blob hash. A blob can
// accumulate multiple paths over time (relocation history).
type PathRecord struct {
	SHA256     string
	Path       string
	RecordedMS int64
}

// BlobWithPath joins a catalog record with its most recently recorded path.
type BlobWithPath struct {
	Blob
	Path string // empty when no path is recorded
}

// ExtractedMetadata carries format-specific attributes pulled out of the
// content at upload time. All fields are optional.
type ExtractedMetadata struct {
	PageCount   *int64
	ImageWidth  *int64
	ImageHeight *int64
	LineCount   *int64
}

// CoordinationMeta is the shared, per-hash row in the coordination store.
// It is a pure function of the content, so any device may write it
// redundantly at any time (create-if-absent).
type CoordinationMeta struct {
	SHA256   string
	Size     int64
	Mime     string
	Filename string
	ExtractedMetadata
}

// DeviceBlob records that a device holds (or held) a local copy of a blob.
// It is presence metadata only; it never implies the bytes exist anywhere
// else. Last write wins per (SHA256, DeviceID).
type DeviceBlob struct {
	SHA256    string
	DeviceID  string
	LocalPath string
	Health    Health
}

// StoreResult is returned by Service.StoreBlob.
type StoreResult struct {
	SHA256 string
	Path   string
	Size   int64
	// Deduplicated is true when the bytes were already present and
	// nothing was written.
	Deduplicated bool
}

// OutboxEntry is a pending coordination publish recorded locally so the
// reconciler can retry it until the shared store accepts it.
type OutboxEntry struct {
	ID            int64
	SHA256        string
	DeviceID      string
	LocalPath     string
	Payload       string // JSON-encoded CoordinationMeta
	CreatedMS     int64
	Attempts      int64
	LastAttemptMS int64 // zero when never attempted
}

// HealthReport aggregates per-health counts over the local catalog.
type HealthReport struct {
	TotalBlobs int64
	Healthy    int64
	Missing    int64
	Modified   int64
	Relocated  int64
	TotalSize  int64
}

// ScanResult summarizes a health scan over the hash store.
type ScanResult struct {
	Added   int
	Updated int
	Errors  []string
}
