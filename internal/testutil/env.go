package testutil

import (
	"testing"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/coord"
	"github.com/RnLe/DeepRecall-sub014/internal/hashstore"
	"github.com/RnLe/DeepRecall-sub014/internal/mirror"
)

// TestDeviceID is the device identifier used by NewTestEnv.
const TestDeviceID = "device-test"

// TestEnv bundles a fully wired in-memory service with handles to its
// dependencies so tests can inspect and perturb them.
type TestEnv struct {
	Catalog blob.Catalog
	Store   *hashstore.MemoryStore
	Mirror  *mirror.MemoryMirror
	Coord   *coord.MemoryCoordinator
	Syncer  *blob.SyncCoordinator
	Service *blob.Service
	Clock   *StubClock
}

// NewTestEnv creates a service backed entirely by in-memory
// implementations plus an in-memory SQLite catalog.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	cat := NewTestCatalog(t)
	store := hashstore.NewMemoryStore()
	mir := mirror.NewMemoryMirror()
	co := coord.NewMemoryCoordinator()
	clock := FixedClock()
	logger := blob.NewNopLogger()

	syncer := blob.NewSyncCoordinator(cat, co, logger, clock)
	svc := blob.NewService(cat, store, mir, syncer, logger, clock, TestDeviceID)

	return &TestEnv{
		Catalog: cat,
		Store:   store,
		Mirror:  mir,
		Coord:   co,
		Syncer:  syncer,
		Service: svc,
		Clock:   clock,
	}
}
