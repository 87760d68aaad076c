package storage

import (
	"context"
	"fmt"

	"github.com/nainya/boltindex/internal/logger"
)

// Config selects and configures one backend
type Config struct {
	// Backend is memory, badger, minio, s3 or gcs
	Backend string
	Badger  BadgerConfig
	MinIO   MinIOConfig
	S3      S3Config
	GCS     GCSConfig
}

// Open creates the backend named by cfg.Backend
func Open(ctx context.Context, cfg Config, log *logger.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "badger":
		bc := cfg.Badger
		if bc.Logger == nil {
			bc.Logger = log
		}
		return OpenBadger(bc)
	case "minio":
		return NewMinIO(cfg.MinIO)
	case "s3":
		return NewS3(ctx, cfg.S3)
	case "gcs":
		return NewGCS(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
