// Package storage archives raw inbound webhook payloads in S3-compatible
// object storage so callbacks can be inspected after correlation.
package storage

import (
	"context"
	"io"
)

// PayloadArchive stores and retrieves raw webhook bodies.
type PayloadArchive interface {
	// Archive stores body under a date-partitioned key for provider and
	// returns the key.
	Archive(ctx context.Context, provider, contentType string, body []byte) (string, error)

	// Fetch returns a stored payload. The caller closes the reader.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)

	// EnsureBucketExists creates the archive bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context) error
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketWebhookPayloads() string
	IsMinIOEnabled() bool
}
