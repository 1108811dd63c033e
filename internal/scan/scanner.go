// Package scan walks the hash store and reconciles what is actually on
// disk with the local catalog: blobs whose files disappeared are marked
// missing, files whose content no longer matches their name are marked
// modified, files found under a new location are marked relocated, and
// untracked content files are added to the catalog.
package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

// Scanner performs health scans over a filesystem hash store.
type Scanner struct {
	catalog blob.Catalog
	root    string
	logger  blob.Logger
	clock   blob.Clock
}

// NewScanner creates a Scanner for the store rooted at root.
func NewScanner(catalog blob.Catalog, root string, logger blob.Logger, clock blob.Clock) *Scanner {
	return &Scanner{
		catalog: catalog,
		root:    root,
		logger:  logger,
		clock:   clock,
	}
}

// Scan walks the store and updates catalog health states. Individual
// file failures are collected, not fatal; the scan continues with the
// remaining files.
func (s *Scanner) Scan() (*blob.ScanResult, error) {
	result := &blob.ScanResult{}

	onDisk, err := s.walkStore(result)
	if err != nil {
		return nil, err
	}

	blobs, err := s.catalog.ListBlobs()
	if err != nil {
		return nil, fmt.Errorf("listing catalog blobs: %w", err)
	}

	known := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		known[b.SHA256] = true
		if err := s.checkBlob(b, onDisk, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("checking %s: %v", blob.ShortID(b.SHA256), err))
		}
	}

	// Content files on disk that the catalog doesn't know about yet
	// (e.g. copied in from another device) get catalog rows.
	for hash, path := range onDisk {
		if known[hash] {
			continue
		}
		if err := s.adoptFile(hash, path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("adopting %s: %v", blob.ShortID(hash), err))
			continue
		}
		result.Added++
	}

	s.logger.Info("scan complete",
		"added", result.Added, "updated", result.Updated, "errors", len(result.Errors))
	return result, nil
}

// walkStore returns hash -> path for every content file under the root.
// Files whose names are not 64 hex characters are skipped.
func (s *Scanner) walkStore(result *blob.ScanResult) (map[string]string, error) {
	onDisk := make(map[string]string)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("walking %s: %v", path, err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !isHexHash(name) {
			return nil
		}
		onDisk[name] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking store: %w", err)
	}
	return onDisk, nil
}

// checkBlob determines the health of one catalog blob and records any change.
func (s *Scanner) checkBlob(b *blob.Blob, onDisk map[string]string, result *blob.ScanResult) error {
	paths, err := s.catalog.FindPathsBySHA256(b.SHA256)
	if err != nil {
		return fmt.Errorf("finding paths: %w", err)
	}

	health := blob.HealthMissing
	for _, p := range paths {
		info, err := os.Stat(p.Path)
		if err != nil {
			continue
		}
		if info.Size() != b.Size {
			health = blob.HealthModified
			break
		}
		// Same length is not enough: corruption can replace bytes
		// without changing the size, so verify the digest too.
		sum, err := hashFile(p.Path)
		if err != nil {
			continue
		}
		if sum != b.SHA256 {
			health = blob.HealthModified
			break
		}
		health = blob.HealthHealthy
		break
	}

	// No recorded path is readable, but the walk may have found the
	// content elsewhere in the store.
	if health == blob.HealthMissing {
		if newPath, ok := onDisk[b.SHA256]; ok && !hasPath(paths, newPath) {
			if err := s.catalog.InsertPath(b.SHA256, newPath, s.clock.Now().UnixMilli()); err != nil {
				return fmt.Errorf("recording relocated path: %w", err)
			}
			health = blob.HealthRelocated
		}
	}

	if health == b.Health {
		return nil
	}
	if err := s.catalog.UpdateHealth(b.SHA256, health); err != nil {
		return fmt.Errorf("updating health: %w", err)
	}
	s.logger.Debug("health changed",
		"sha256", blob.ShortID(b.SHA256), "from", string(b.Health), "to", string(health))
	result.Updated++
	return nil
}

// adoptFile creates catalog rows for an untracked content file. The
// filename is trusted as the hash (it passed the hex check); mime is
// unknown at scan time.
func (s *Scanner) adoptFile(hash, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	now := s.clock.Now().UnixMilli()
	b := &blob.Blob{
		SHA256:    hash,
		Size:      info.Size(),
		Mime:      "application/octet-stream",
		MtimeMS:   info.ModTime().UnixMilli(),
		CreatedMS: now,
		Health:    blob.HealthHealthy,
	}
	if err := s.catalog.InsertBlob(b); err != nil {
		return fmt.Errorf("inserting blob: %w", err)
	}
	if err := s.catalog.InsertPath(hash, path, now); err != nil {
		return fmt.Errorf("inserting path: %w", err)
	}
	return nil
}

// hashFile returns the lowercase hex SHA-256 digest of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hasPath(paths []*blob.PathRecord, path string) bool {
	for _, p := range paths {
		if p.Path == path {
			return true
		}
	}
	return false
}

func isHexHash(name string) bool {
	if len(name) != 64 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}
