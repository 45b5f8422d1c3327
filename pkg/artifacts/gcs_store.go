//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStoreConfig locates the snapshot bucket. Credentials come from the
// application default chain.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// GCSStore keeps snapshots as Cloud Storage objects named by their digest.
type GCSStore struct {
	bucketStore
	client *storage.Client
}

func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs client: %w", err)
	}
	return &GCSStore{
		bucketStore: bucketStore{
			name:   "gcs",
			prefix: cfg.Prefix,
			objs:   gcsObjects{bucket: client.Bucket(cfg.Bucket)},
		},
		client: client,
	}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

type gcsObjects struct {
	bucket *storage.BucketHandle
}

func missing(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errNoObject
	}
	return err
}

func (o gcsObjects) put(ctx context.Context, key string, data []byte) error {
	w := o.bucket.Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (o gcsObjects) get(ctx context.Context, key string) ([]byte, error) {
	r, err := o.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, missing(err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (o gcsObjects) head(ctx context.Context, key string) error {
	_, err := o.bucket.Object(key).Attrs(ctx)
	return missing(err)
}

func (o gcsObjects) remove(ctx context.Context, key string) error {
	return missing(o.bucket.Object(key).Delete(ctx))
}
