package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOArchive implements PayloadArchive using MinIO.
type MinIOArchive struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinIOArchive creates the archive client for the configured bucket.
func NewMinIOArchive(cfg Config) (*MinIOArchive, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}
	bucket := cfg.GetMinioBucketWebhookPayloads()
	if bucket == "" {
		return nil, fmt.Errorf("webhook payload bucket is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOArchive{client: client, bucket: bucket, now: time.Now}, nil
}

// EnsureBucketExists creates the bucket if it doesn't exist.
func (a *MinIOArchive) EnsureBucketExists(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}

	return nil
}

// Archive uploads body and returns its object key.
func (a *MinIOArchive) Archive(ctx context.Context, provider, contentType string, body []byte) (string, error) {
	if err := ValidatePayload(contentType, int64(len(body))); err != nil {
		return "", err
	}

	key := ObjectKey(provider, a.now(), uuid.New())
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: normalizeContentType(contentType),
		UserMetadata: map[string]string{
			"provider": provider,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload payload %s: %w", key, err)
	}
	return key, nil
}

// Fetch downloads an archived payload.
// The caller is responsible for closing the returned io.ReadCloser.
func (a *MinIOArchive) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return obj, nil
}

var _ PayloadArchive = (*MinIOArchive)(nil)
