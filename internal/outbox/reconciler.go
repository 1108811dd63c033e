// Package outbox runs the background reconciler that retries pending
// coordination publishes until the shared store accepts them. Together
// with the outbox table this upgrades the best-effort inline publish to
// at-least-once delivery.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
)

// DefaultInterval is the tick interval between flush passes.
const DefaultInterval = 30 * time.Second

// batchSize bounds how many entries a single pass retries.
const batchSize = 100

// Reconciler periodically flushes the coordination outbox.
type Reconciler struct {
	syncer   *blob.SyncCoordinator
	logger   blob.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciler creates a reconciler. interval of zero falls back to the
// default.
func NewReconciler(syncer *blob.SyncCoordinator, logger blob.Logger, interval time.Duration) *Reconciler {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		syncer:   syncer,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the background loop. Calling Start on a running
// reconciler is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return // already running
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.flushOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

func (r *Reconciler) flushOnce(ctx context.Context) {
	published, failed, err := r.syncer.Flush(ctx, batchSize)
	if err != nil {
		r.logger.Error("outbox flush failed", "error", err)
		return
	}
	if published > 0 || failed > 0 {
		r.logger.Info("outbox flushed", "published", published, "failed", failed)
	}
}
