package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/config"
)

// NewCoordinatorFromConfig creates a Coordinator implementation based on
// the coordination config type.
func NewCoordinatorFromConfig(ctx context.Context, cfg config.CoordinationConfig) (blob.Coordinator, error) {
	switch cfg.Type {
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("postgres coordination requires url to be set")
		}
		return NewPostgresCoordinator(ctx, cfg.URL, cfg.Retries, time.Duration(cfg.RetryDelayMS)*time.Millisecond)
	case "memory":
		return NewMemoryCoordinator(), nil
	case "none", "":
		return NewNopCoordinator(), nil
	default:
		return nil, fmt.Errorf("unknown coordination type: %s", cfg.Type)
	}
}

// NopCoordinator accepts every publish and reports nothing as published.
// Used when coordination is disabled (single-device setup): publishes
// succeed so the outbox drains instead of accumulating.
type NopCoordinator struct{}

func NewNopCoordinator() *NopCoordinator { return &NopCoordinator{} }

func (*NopCoordinator) Publish(context.Context, *blob.CoordinationMeta, *blob.DeviceBlob) error {
	return nil
}

func (*NopCoordinator) FindMeta(context.Context, string) (*blob.CoordinationMeta, error) {
	return nil, nil
}

func (*NopCoordinator) DevicesForBlob(context.Context, string) ([]*blob.DeviceBlob, error) {
	return nil, nil
}

func (*NopCoordinator) Close() error { return nil }

// Compile-time check that NopCoordinator implements blob.Coordinator
var _ blob.Coordinator = (*NopCoordinator)(nil)
