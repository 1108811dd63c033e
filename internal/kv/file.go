// Package kv provides small persistent key/value stores used for
// device-local state such as the device identifier.
package kv

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

// FileStore keeps key/value pairs in a single JSON file. Writes go
// through a temp file and rename so a crash never leaves a truncated
// store behind.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

var _ blob.KeyValueStore = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return "", false, err
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	f.values[key] = value
	return f.save()
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	delete(f.values, key)
	return f.save()
}

// load reads the backing file once. A missing file is an empty store.
func (f *FileStore) load() error {
	if f.loaded {
		return nil
	}
	f.values = make(map[string]string)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.loaded = true
			return nil
		}
		return fmt.Errorf("reading kv store %s: %w", f.path, err)
	}
	if err := json.Unmarshal(data, &f.values); err != nil {
		return fmt.Errorf("parsing kv store %s: %w", f.path, err)
	}
	f.loaded = true
	return nil
}

func (f *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("creating kv store directory: %w", err)
	}
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding kv store: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing kv store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing kv store: %w", err)
	}
	return nil
}
