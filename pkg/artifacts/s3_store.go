package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3StoreConfig locates the snapshot bucket. Endpoint points the client at
// an S3-compatible server such as MinIO and switches to path-style URLs.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// S3Store keeps snapshots as S3 objects named by their digest.
type S3Store struct {
	bucketStore
}

func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifacts: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{bucketStore{
		name:   "s3",
		prefix: cfg.Prefix,
		objs:   s3Objects{client: client, bucket: aws.String(cfg.Bucket)},
	}}, nil
}

type s3Objects struct {
	client *s3.Client
	bucket *string
}

func (o s3Objects) put(ctx context.Context, key string, data []byte) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      o.bucket,
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (o s3Objects) get(ctx context.Context, key string) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{Bucket: o.bucket, Key: aws.String(key)})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, errNoObject
		}
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (o s3Objects) head(ctx context.Context, key string) error {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: o.bucket, Key: aws.String(key)})
	var missing *types.NotFound
	if errors.As(err, &missing) {
		return errNoObject
	}
	return err
}

// remove succeeds for a missing key; S3 deletes are idempotent.
func (o s3Objects) remove(ctx context.Context, key string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: o.bucket, Key: aws.String(key)})
	return err
}
