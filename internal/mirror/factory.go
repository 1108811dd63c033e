package mirror

import (
	"context"
	"fmt"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/config"
)

// NewMirrorFromConfig creates a Mirror implementation based on the mirror config type.
// Type "none" returns nil; callers treat a nil mirror as disabled.
func NewMirrorFromConfig(ctx context.Context, cfg config.MirrorConfig) (blob.Mirror, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "s3":
		return NewS3Mirror(ctx, cfg)
	case "memory":
		return NewMemoryMirror(), nil
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}
