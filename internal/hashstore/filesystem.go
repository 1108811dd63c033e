package hashstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

// FileSystemStore is a filesystem-based implementation of the HashStore
// interface. Bytes live under a role-organized, hash-sharded layout:
//
//	<root>/
//	  library/
//	    ab/abc123...  (content files, named by SHA-256, sharded by the
//	                   first two hex characters)
//	  markdown/
//	    cd/cde456...
//
// A hash appears at most once across the tree; Put is idempotent.
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// Put persists data under the hash within the role subtree.
// If the hash already exists anywhere in the store, nothing is written
// and the existing path is returned.
func (s *FileSystemStore) Put(hash, role string, data []byte) (string, error) {
	if existing := s.find(hash); existing != "" {
		return existing, nil
	}

	destPath := s.objectPath(hash, role)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}

	if err := s.writeFile(destPath, data); err != nil {
		return "", err
	}
	return destPath, nil
}

// Open returns a reader for the stored bytes.
func (s *FileSystemStore) Open(hash string) (io.ReadCloser, error) {
	path := s.find(hash)
	if path == "" {
		return nil, fmt.Errorf("content not found: %s", blob.ShortID(hash))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open content: %w", err)
	}
	return f, nil
}

// Has reports whether bytes for the hash are present.
func (s *FileSystemStore) Has(hash string) (bool, error) {
	return s.find(hash) != "", nil
}

// Root returns the store's base directory.
func (s *FileSystemStore) Root() string {
	return s.root
}

// find returns the path holding the hash, or "" when absent. Roles are
// enumerated from the top-level directories.
func (s *FileSystemStore) find(hash string) string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := s.objectPath(hash, e.Name())
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// objectPath returns the filesystem path for a hash within a role subtree.
func (s *FileSystemStore) objectPath(hash, role string) string {
	shard := hash
	if len(hash) >= 2 {
		shard = hash[:2]
	}
	return filepath.Join(s.root, role, shard, hash)
}

// writeFile writes data to destPath using atomic write (temp file + rename).
func (s *FileSystemStore) writeFile(destPath string, data []byte) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements blob.HashStore
var _ blob.HashStore = (*FileSystemStore)(nil)
