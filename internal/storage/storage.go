// Package storage selects the content backend configured for the store.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/internal/circuit"
	"github.com/objectfs/vaultstore/internal/config"
	"github.com/objectfs/vaultstore/internal/storage/local"
	"github.com/objectfs/vaultstore/internal/storage/s3"
	"github.com/objectfs/vaultstore/pkg/types"
)

// Lister is implemented by backends that can enumerate stored identifiers.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// New returns the backend named by cfg.Backend. Remote backends are guarded by a
// circuit breaker.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (types.Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", "local":
		return local.New(cfg.Root, logger.Named("local"))
	case "s3":
		backend, err := s3.NewBackend(ctx, &s3.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			MaxRetries:      cfg.S3.MaxRetries,
			StorageClass:    cfg.S3.StorageClass,
		}, logger.Named("s3"))
		if err != nil {
			return nil, err
		}
		return circuit.Guard("s3:"+cfg.S3.Bucket, backend, circuit.Config{
			Timeout: cfg.S3.BreakerTimeout,
		}, logger.Named("circuit")), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
