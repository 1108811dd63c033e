// Package testutil provides in-memory test doubles for the blob
// service's dependencies.
package testutil

import (
	"testing"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/catalog"
)

// NewTestCatalog creates a new in-memory SQLite catalog with the schema
// applied. The catalog is automatically closed when the test completes.
func NewTestCatalog(t *testing.T) blob.Catalog {
	t.Helper()

	cat, err := catalog.NewSQLiteCatalog(":memory:")
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}

	if err := cat.MigrateUp(); err != nil {
		cat.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		cat.Close()
	})

	return cat
}
