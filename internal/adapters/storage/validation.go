package storage

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxPayloadSize bounds a single archived webhook body (5 MiB).
const MaxPayloadSize int64 = 5 << 20

const keyPrefix = "webhooks"

// AllowedContentTypes defines the webhook body types worth archiving.
var AllowedContentTypes = map[string]bool{
	"application/json":                  true,
	"application/x-www-form-urlencoded": true,
	"multipart/form-data":               true,
	"text/plain":                        true,
	"application/xml":                   true,
	"text/xml":                          true,
}

// ObjectKey builds webhooks/<provider>/<yyyy>/<mm>/<dd>/<id>.json in UTC.
func ObjectKey(provider string, at time.Time, id uuid.UUID) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "unknown"
	}
	provider = strings.ReplaceAll(provider, "/", "_")
	at = at.UTC()
	return path.Join(
		keyPrefix,
		provider,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		id.String()+".json",
	)
}

// ValidatePayload checks the content type and size of a body before upload.
func ValidatePayload(contentType string, sizeBytes int64) error {
	if sizeBytes <= 0 {
		return fmt.Errorf("payload must not be empty")
	}
	if sizeBytes > MaxPayloadSize {
		return fmt.Errorf("payload size %d exceeds maximum allowed size %d", sizeBytes, MaxPayloadSize)
	}

	// Vendors that omit the header still get archived as JSON.
	if strings.TrimSpace(contentType) == "" {
		return nil
	}
	if !AllowedContentTypes[normalizeContentType(contentType)] {
		return fmt.Errorf("content type %q is not allowed", contentType)
	}
	return nil
}

// normalizeContentType removes parameters like charset.
func normalizeContentType(contentType string) string {
	normalized := strings.Split(contentType, ";")[0]
	normalized = strings.TrimSpace(strings.ToLower(normalized))
	if normalized == "" {
		return "application/json"
	}
	return normalized
}
