// Package storage defines the object store abstraction used for article media.
// Implementations live in the s3, gcs and memory subpackages.
package storage

import (
	"context"
	"time"
)

// ObjectStore is the subset of an S3-compatible object store the ingester consumes.
type ObjectStore interface {
	// EnsureBucket checks that the configured bucket exists, creating it when allowed.
	EnsureBucket(ctx context.Context) error
	// PutObject uploads data under key with the given content type.
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	// PresignGet issues a fresh time-limited read URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NoOpStore accepts uploads and discards them. PresignGet returns the key unchanged.
// It backs dry runs where media is not persisted.
type NoOpStore struct{}

// EnsureBucket always succeeds.
func (NoOpStore) EnsureBucket(context.Context) error { return nil }

// PutObject discards the data.
func (NoOpStore) PutObject(context.Context, string, []byte, string) error { return nil }

// PresignGet returns key.
func (NoOpStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return key, nil
}
