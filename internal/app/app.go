// Package app is the application layer between the CLI/server entry
// points and the blob service. It constructs all dependencies from config
// and manages their lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/catalog"
	"github.com/RnLe/DeepRecall-sub014/internal/config"
	"github.com/RnLe/DeepRecall-sub014/internal/coord"
	"github.com/RnLe/DeepRecall-sub014/internal/hashstore"
	"github.com/RnLe/DeepRecall-sub014/internal/kv"
	"github.com/RnLe/DeepRecall-sub014/internal/mirror"
	"github.com/RnLe/DeepRecall-sub014/internal/outbox"
	"github.com/RnLe/DeepRecall-sub014/internal/scan"
)

// deviceIDKey is the key-value store entry holding this device's
// stable identifier.
const deviceIDKey = "device_id"

// State tracks the app lifecycle. Dependencies are wired exactly once:
// Initialize moves the app from StateUninitialized to StateReady and is
// a no-op afterwards.
type State int

const (
	StateUninitialized State = iota
	StateReady
)

// App owns the process-scoped dependency graph: catalog, hash store,
// mirror, coordinator, sync coordinator, service and reconciler.
type App struct {
	cfg *config.Config
	op  *Operation

	mu    sync.Mutex
	state State

	catalog    blob.Catalog
	store      blob.HashStore
	mirror     blob.Mirror
	coord      blob.Coordinator
	kvStore    blob.KeyValueStore
	syncer     *blob.SyncCoordinator
	service    *blob.Service
	reconciler *outbox.Reconciler
	deviceID   string

	logger    blob.Logger
	logCloser io.Closer
}

// NewApp creates an App for the given config. operation identifies the
// command being run (e.g. "StoreBlob", "Serve"); server selects the
// rotated long-running log. Call Initialize before using the service,
// and Close when done.
func NewApp(cfg *config.Config, operation string, server bool) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")

	newLog := newLogger
	if server {
		newLog = newServerLogger
	}
	logger, closer, err := newLog(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &App{
		cfg:       cfg,
		op:        NewOperation(operation, ""),
		logger:    &slogAdapter{l: logger},
		logCloser: closer,
	}, nil
}

// Initialize wires all dependencies from config. It is idempotent:
// the second and later calls return immediately.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateReady {
		return nil
	}

	cat, err := catalog.NewCatalogFromConfig(a.cfg.Catalog)
	if err != nil {
		return fmt.Errorf("creating catalog: %w", err)
	}
	if err := cat.MigrateUp(); err != nil {
		cat.Close()
		return fmt.Errorf("migrating catalog: %w", err)
	}

	store, err := hashstore.NewStoreFromConfig(a.cfg.Store)
	if err != nil {
		cat.Close()
		return fmt.Errorf("creating hash store: %w", err)
	}

	mir, err := mirror.NewMirrorFromConfig(ctx, a.cfg.Mirror)
	if err != nil {
		cat.Close()
		return fmt.Errorf("creating mirror: %w", err)
	}

	co, err := coord.NewCoordinatorFromConfig(ctx, a.cfg.Coordination)
	if err != nil {
		cat.Close()
		return fmt.Errorf("creating coordinator: %w", err)
	}

	kvStore := kv.NewFileStore(filepath.Join(a.cfg.BaseDir, "state.json"))
	deviceID, err := loadDeviceID(kvStore, blob.UUIDGenerator{})
	if err != nil {
		cat.Close()
		return fmt.Errorf("loading device id: %w", err)
	}

	syncer := blob.NewSyncCoordinator(cat, co, a.logger, blob.RealClock{})
	service := blob.NewService(cat, store, mir, syncer, a.logger, blob.RealClock{}, deviceID)

	interval := outbox.DefaultInterval
	if a.cfg.Coordination.ReconcileIntervalS > 0 {
		interval = time.Duration(a.cfg.Coordination.ReconcileIntervalS) * time.Second
	}

	a.catalog = cat
	a.store = store
	a.mirror = mir
	a.coord = co
	a.kvStore = kvStore
	a.syncer = syncer
	a.service = service
	a.reconciler = outbox.NewReconciler(syncer, a.logger, interval)
	a.deviceID = deviceID
	a.state = StateReady

	a.logger.Info("app initialized", "device_id", blob.ShortID(deviceID))
	return nil
}

// loadDeviceID returns the stable device identifier, generating and
// persisting one on first use.
func loadDeviceID(store blob.KeyValueStore, gen blob.IDGenerator) (string, error) {
	id, ok, err := store.Get(deviceIDKey)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = gen.New()
	if err := store.Set(deviceIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// Service returns the blob service. Panics if Initialize has not run.
func (a *App) Service() *blob.Service {
	a.mustBeReady()
	return a.service
}

// Syncer returns the sync coordinator.
func (a *App) Syncer() *blob.SyncCoordinator {
	a.mustBeReady()
	return a.syncer
}

// Reconciler returns the outbox reconciler.
func (a *App) Reconciler() *outbox.Reconciler {
	a.mustBeReady()
	return a.reconciler
}

// Logger returns the app logger.
func (a *App) Logger() blob.Logger { return a.logger }

// DeviceID returns this device's stable identifier.
func (a *App) DeviceID() string {
	a.mustBeReady()
	return a.deviceID
}

// Scan runs a health scan over the local hash store.
func (a *App) Scan() (*blob.ScanResult, error) {
	a.mustBeReady()
	root := a.store.Root()
	if root == "" {
		return nil, fmt.Errorf("scan requires a filesystem store")
	}
	if err := a.persistOperation(); err != nil {
		return nil, err
	}
	scanner := scan.NewScanner(a.catalog, root, a.logger, blob.RealClock{})
	return scanner.Scan()
}

func (a *App) mustBeReady() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateReady {
		panic("app used before Initialize")
	}
}

// persistOperation saves the operation to the catalog, giving it an
// auto-increment ID. Only mutating commands call this.
func (a *App) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	id, err := a.catalog.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// PersistOperation records the current operation in the catalog's
// operation log. Mutating entry points call this before acting.
func (a *App) PersistOperation(parameters string) error {
	a.mustBeReady()
	a.op.Parameters = parameters
	return a.persistOperation()
}

// SetStatus records the final status for the operation log.
func (a *App) SetStatus(status string) {
	a.op.Status = status
}

// Close finalizes the operation record and releases all resources.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error

	if a.state == StateReady {
		if a.op.Persisted() {
			if err := a.catalog.FinishOperation(a.op.ID, a.op.Status); err != nil {
				firstErr = fmt.Errorf("finishing operation: %w", err)
			}
		}
		if a.reconciler != nil {
			a.reconciler.Stop()
		}
		if a.coord != nil {
			if err := a.coord.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing coordinator: %w", err)
			}
		}
		if err := a.catalog.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing catalog: %w", err)
		}
	}

	if a.logCloser != nil {
		a.logCloser.Close()
	}

	a.state = StateUninitialized
	return firstErr
}
