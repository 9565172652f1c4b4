// Package gcs provides an ObjectStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ghalehnoei/news-scraper/internal/logging"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
	CreateBucket    bool
}

// BlobStore writes media objects to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	cfg    Config
	logger *zap.Logger
}

// Open creates a storage client from cfg and wraps it.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	store, err := New(client, cfg, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.OrNop(logger).Warn("close gcs client", zap.Error(closeErr))
		}
		return nil, err
	}
	return store, nil
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		cfg:    cfg,
		logger: logging.OrNop(logger),
	}, nil
}

// EnsureBucket fetches the bucket attributes and creates it when missing and allowed.
func (s *BlobStore) EnsureBucket(ctx context.Context) error {
	bkt := s.client.Bucket(s.cfg.Bucket)
	_, err := bkt.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("get bucket %q attributes: %w", s.cfg.Bucket, err)
	}
	if !s.cfg.CreateBucket {
		return fmt.Errorf("bucket %q does not exist", s.cfg.Bucket)
	}
	if s.cfg.ProjectID == "" {
		return fmt.Errorf("telemetry.project_id is required to create bucket %q", s.cfg.Bucket)
	}
	if err := bkt.Create(ctx, s.cfg.ProjectID, nil); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.cfg.Bucket, err)
	}
	s.logger.Info("created bucket", zap.String("bucket", s.cfg.Bucket))
	return nil
}

// PutObject uploads data to key.
func (s *BlobStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	writer := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// PresignGet issues a V4 signed GET URL for key.
func (s *BlobStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	signed, err := s.client.Bucket(s.cfg.Bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return signed, nil
}

// Close releases the client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
