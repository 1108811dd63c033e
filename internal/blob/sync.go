package blob

import (
	"context"
	"encoding/json"
	"fmt"
)

// SyncCoordinator reconciles local catalog state against the shared
// coordination store. The local store is the durability boundary:
// coordination writes are best-effort at call time, with the outbox
// giving at-least-once delivery through the background reconciler.
type SyncCoordinator struct {
	catalog Catalog
	coord   Coordinator
	logger  Logger
	clock   Clock
}

// NewSyncCoordinator creates a SyncCoordinator with the provided dependencies.
func NewSyncCoordinator(catalog Catalog, coord Coordinator, logger Logger, clock Clock) *SyncCoordinator {
	return &SyncCoordinator{
		catalog: catalog,
		coord:   coord,
		logger:  logger,
		clock:   clock,
	}
}

// SyncBlob publishes availability for a hash on behalf of a device.
// If the blob is not in the local catalog the call still succeeds: the
// device that originally stored the content already published the shared
// metadata, so there is nothing for this device to add.
func (c *SyncCoordinator) SyncBlob(ctx context.Context, sha256, deviceID string) error {
	b, err := c.catalog.FindBlobBySHA256(sha256)
	if err != nil {
		return fmt.Errorf("finding blob: %w", err)
	}
	if b == nil {
		// Peer-published case: content was synced by the storing device.
		c.logger.Debug("sync for absent blob, assuming peer published",
			"sha256", ShortID(sha256), "device", ShortID(deviceID))
		return nil
	}

	localPath := ""
	paths, err := c.catalog.FindPathsBySHA256(sha256)
	if err != nil {
		return fmt.Errorf("finding paths: %w", err)
	}
	if len(paths) > 0 {
		localPath = paths[0].Path
	}

	meta := &CoordinationMeta{
		SHA256:   b.SHA256,
		Size:     b.Size,
		Mime:     b.Mime,
		Filename: b.Filename,
	}
	avail := &DeviceBlob{
		SHA256:    b.SHA256,
		DeviceID:  deviceID,
		LocalPath: localPath,
		Health:    HealthHealthy,
	}
	if err := c.coord.Publish(ctx, meta, avail); err != nil {
		return fmt.Errorf("publishing coordination: %w", err)
	}

	c.logger.Info("blob synced", "sha256", ShortID(sha256), "device", ShortID(deviceID))
	return nil
}

// CreateBlobCoordination writes the shared metadata row and the
// per-device availability row. Safe to retry: repeated calls with an
// identical payload are no-ops beyond the first.
func (c *SyncCoordinator) CreateBlobCoordination(ctx context.Context, meta *CoordinationMeta, deviceID, localPath string) error {
	avail := &DeviceBlob{
		SHA256:    meta.SHA256,
		DeviceID:  deviceID,
		LocalPath: localPath,
		Health:    HealthHealthy,
	}
	if err := c.coord.Publish(ctx, meta, avail); err != nil {
		return fmt.Errorf("publishing coordination: %w", err)
	}
	return nil
}

// PublishStored is called after a successful local store. It records the
// coordination intent in the outbox first, then attempts the publish
// inline; on success the outbox entry is removed. A publish failure is
// not an error here; the entry stays pending for the reconciler.
func (c *SyncCoordinator) PublishStored(ctx context.Context, meta *CoordinationMeta, deviceID, localPath string) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding coordination payload: %w", err)
	}

	entry := &OutboxEntry{
		SHA256:    meta.SHA256,
		DeviceID:  deviceID,
		LocalPath: localPath,
		Payload:   string(payload),
		CreatedMS: c.clock.Now().UnixMilli(),
	}
	if err := c.catalog.EnqueueCoordination(entry); err != nil {
		return fmt.Errorf("enqueuing coordination: %w", err)
	}

	if err := c.CreateBlobCoordination(ctx, meta, deviceID, localPath); err != nil {
		c.logger.Warn("coordination publish failed, left in outbox",
			"sha256", ShortID(meta.SHA256), "device", ShortID(deviceID), "error", err)
		return nil
	}

	if err := c.catalog.DeleteCoordination(entry.ID); err != nil {
		return fmt.Errorf("clearing outbox entry: %w", err)
	}
	return nil
}

// Flush retries up to limit pending coordination publishes, oldest first.
// Individual failures don't stop the flush; each failed entry gets its
// attempt counter bumped and stays queued.
func (c *SyncCoordinator) Flush(ctx context.Context, limit int) (published, failed int, err error) {
	entries, err := c.catalog.PendingCoordination(limit)
	if err != nil {
		return 0, 0, fmt.Errorf("loading outbox: %w", err)
	}

	for _, e := range entries {
		var meta CoordinationMeta
		if err := json.Unmarshal([]byte(e.Payload), &meta); err != nil {
			// Unreadable payload can never succeed; drop it.
			c.logger.Error("dropping malformed outbox entry", "id", e.ID, "error", err)
			if err := c.catalog.DeleteCoordination(e.ID); err != nil {
				return published, failed, fmt.Errorf("dropping outbox entry: %w", err)
			}
			failed++
			continue
		}

		if err := c.CreateBlobCoordination(ctx, &meta, e.DeviceID, e.LocalPath); err != nil {
			c.logger.Warn("outbox publish failed",
				"sha256", ShortID(e.SHA256), "attempts", e.Attempts+1, "error", err)
			if err := c.catalog.MarkCoordinationAttempt(e.ID, c.clock.Now().UnixMilli()); err != nil {
				return published, failed, fmt.Errorf("marking outbox attempt: %w", err)
			}
			failed++
			continue
		}

		if err := c.catalog.DeleteCoordination(e.ID); err != nil {
			return published, failed, fmt.Errorf("clearing outbox entry: %w", err)
		}
		published++
	}

	return published, failed, nil
}
