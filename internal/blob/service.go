package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// DefaultRole is the hash-store subtree used when the caller doesn't
// specify one.
const DefaultRole = "library"

// Service is the content-addressed store orchestration layer. It
// coordinates the hash store, the local catalog, the optional mirror and
// the sync coordinator to perform the operations the HTTP and CLI
// surfaces need.
type Service struct {
	catalog  Catalog
	store    HashStore
	mirror   Mirror
	syncer   *SyncCoordinator
	logger   Logger
	clock    Clock
	deviceID string
}

// NewService creates a Service with the provided dependencies.
// deviceID identifies this device in the coordination store; callers can
// override it per store operation.
func NewService(catalog Catalog, store HashStore, mirror Mirror, syncer *SyncCoordinator, logger Logger, clock Clock, deviceID string) *Service {
	return &Service{
		catalog:  catalog,
		store:    store,
		mirror:   mirror,
		syncer:   syncer,
		logger:   logger,
		clock:    clock,
		deviceID: deviceID,
	}
}

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StoreBlob persists bytes in the hash store and records catalog rows.
//
// Dedup contract: if a blob with the same hash already exists, the
// existing metadata is returned and nothing is rewritten. Otherwise the
// bytes are written first (atomic rename), then the catalog rows, so an
// aborted request leaves no metadata behind. The coordination publish
// and mirror push afterwards are best-effort.
func (s *Service) StoreBlob(ctx context.Context, data []byte, filename, mime, role, deviceID string) (*StoreResult, error) {
	if len(data) == 0 {
		return nil, NewValidationError("file", "empty content")
	}
	if role == "" {
		role = DefaultRole
	}
	if deviceID == "" {
		deviceID = s.deviceID
	}

	hash := HashBytes(data)

	existing, err := s.catalog.FindBlobBySHA256(hash)
	if err != nil {
		return nil, fmt.Errorf("checking for existing blob: %w", err)
	}
	if existing != nil {
		path, err := s.newestPath(hash)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("blob deduplicated", "sha256", ShortID(hash))
		return &StoreResult{SHA256: hash, Path: path, Size: existing.Size, Deduplicated: true}, nil
	}

	path, err := s.store.Put(hash, role, data)
	if err != nil {
		return nil, &StorageError{Op: "write", Err: err}
	}

	now := s.clock.Now().UnixMilli()
	b := &Blob{
		SHA256:    hash,
		Size:      int64(len(data)),
		Mime:      mime,
		Filename:  filename,
		MtimeMS:   now,
		CreatedMS: now,
		Health:    HealthHealthy,
	}
	if err := s.catalog.InsertBlob(b); err != nil {
		return nil, fmt.Errorf("recording blob: %w", err)
	}
	if err := s.catalog.InsertPath(hash, path, now); err != nil {
		return nil, fmt.Errorf("recording path: %w", err)
	}

	s.pushToMirror(hash, data)

	meta := &CoordinationMeta{SHA256: hash, Size: b.Size, Mime: mime, Filename: filename}
	if err := s.syncer.PublishStored(ctx, meta, deviceID, path); err != nil {
		// Local store already succeeded; discoverability catches up on
		// the next sync.
		s.logger.Warn("coordination intent not recorded",
			"sha256", ShortID(hash), "error", err)
	}

	s.logger.Info("blob stored", "sha256", ShortID(hash), "size", b.Size, "role", role)
	return &StoreResult{SHA256: hash, Path: path, Size: b.Size}, nil
}

// CreateMarkdownBlob encodes text content as bytes and stores it with a
// slugged filename and fixed mime text/markdown. Returns the store
// result and the generated filename.
func (s *Service) CreateMarkdownBlob(ctx context.Context, content, title, deviceID string) (*StoreResult, string, error) {
	if content == "" {
		return nil, "", NewValidationError("content", "empty content")
	}
	filename := SlugFilename(title, ".md")
	res, err := s.StoreBlob(ctx, []byte(content), filename, "text/markdown", "markdown", deviceID)
	if err != nil {
		return nil, "", err
	}
	return res, filename, nil
}

// GetBlobBySHA256 returns the catalog record for a hash, or (nil, nil)
// when unknown.
func (s *Service) GetBlobBySHA256(sha256 string) (*Blob, error) {
	return s.catalog.FindBlobBySHA256(sha256)
}

// GetPathForHash returns the most recently recorded path for a hash, or
// "" when the hash is unknown, has no recorded path, or its local copy
// is missing.
func (s *Service) GetPathForHash(sha256 string) (string, error) {
	b, err := s.catalog.FindBlobBySHA256(sha256)
	if err != nil {
		return "", err
	}
	if b == nil || b.Health == HealthMissing {
		return "", nil
	}
	return s.newestPath(sha256)
}

// FetchBlob returns a reader over the blob bytes plus its catalog
// record. It reads from the hash store first and falls through to the
// mirror when no local copy is readable. Returns a NotFoundError when
// the hash is unknown or no copy can be produced.
func (s *Service) FetchBlob(ctx context.Context, sha256 string) (io.ReadCloser, *Blob, error) {
	b, err := s.catalog.FindBlobBySHA256(sha256)
	if err != nil {
		return nil, nil, fmt.Errorf("finding blob: %w", err)
	}
	if b == nil {
		return nil, nil, &NotFoundError{Kind: "blob", ID: sha256}
	}

	rc, err := s.store.Open(sha256)
	if err == nil {
		return rc, b, nil
	}
	s.logger.Debug("local copy unreadable, trying mirror", "sha256", ShortID(sha256))

	if s.mirror == nil {
		return nil, nil, &NotFoundError{Kind: "path", ID: sha256}
	}
	var buf bytes.Buffer
	if err := s.mirror.Get(sha256, &buf); err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, nil, &NotFoundError{Kind: "path", ID: sha256}
		}
		return nil, nil, fmt.Errorf("fetching from mirror: %w", err)
	}
	return io.NopCloser(&buf), b, nil
}

// ListFiles enumerates all catalog records.
func (s *Service) ListFiles() ([]*Blob, error) {
	return s.catalog.ListBlobs()
}

// ListFilesWithPaths enumerates all catalog records joined with their
// newest path.
func (s *Service) ListFilesWithPaths() ([]*BlobWithPath, error) {
	return s.catalog.ListBlobsWithPaths()
}

// DeleteBlob removes the catalog rows for a hash. Bytes stay on disk:
// a metadata-only operation must never be able to destroy content.
func (s *Service) DeleteBlob(sha256 string) error {
	b, err := s.catalog.FindBlobBySHA256(sha256)
	if err != nil {
		return fmt.Errorf("finding blob: %w", err)
	}
	if b == nil {
		return &NotFoundError{Kind: "blob", ID: sha256}
	}
	if err := s.catalog.DeleteBlob(sha256); err != nil {
		return fmt.Errorf("deleting blob metadata: %w", err)
	}
	s.logger.Info("blob metadata deleted", "sha256", ShortID(sha256))
	return nil
}

// RenameBlob updates the recorded filename for a hash.
func (s *Service) RenameBlob(sha256, filename string) error {
	if filename == "" {
		return NewValidationError("filename", "must not be empty")
	}
	b, err := s.catalog.FindBlobBySHA256(sha256)
	if err != nil {
		return fmt.Errorf("finding blob: %w", err)
	}
	if b == nil {
		return &NotFoundError{Kind: "blob", ID: sha256}
	}
	return s.catalog.UpdateFilename(sha256, filename)
}

// Stats returns the catalog health report.
func (s *Service) Stats() (*HealthReport, error) {
	return s.catalog.HealthReport()
}

func (s *Service) newestPath(sha256 string) (string, error) {
	paths, err := s.catalog.FindPathsBySHA256(sha256)
	if err != nil {
		return "", fmt.Errorf("finding paths: %w", err)
	}
	if len(paths) == 0 {
		return "", nil
	}
	return paths[0].Path, nil
}

func (s *Service) pushToMirror(hash string, data []byte) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Put(hash, bytes.NewReader(data), int64(len(data))); err != nil {
		s.logger.Warn("mirror push failed", "sha256", ShortID(hash), "error", err)
	}
}
