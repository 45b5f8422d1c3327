package artifacts

import (
	"context"
	"fmt"
)

// StoreType names a storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Type StoreType `yaml:"type"`
	// Dir is the filesystem store directory.
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// New opens the configured store. An empty Type means fs.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "data/snapshots"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("artifacts: bucket is required for S3 storage")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{Bucket: cfg.Bucket, Region: region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case StoreTypeGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("artifacts: bucket is required for GCS storage")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Type)
	}
}
