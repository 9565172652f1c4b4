package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/fetcher"
	"github.com/ghalehnoei/news-scraper/internal/logging"
	"github.com/ghalehnoei/news-scraper/internal/metrics"
	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
)

// ErrInvalidImage is returned for payloads that are not a supported image.
var ErrInvalidImage = errors.New("invalid image")

// MinImageBytes is the smallest payload accepted as an image.
const MinImageBytes = 100

// Fetcher downloads image bytes through the source's fetch policy.
type Fetcher interface {
	FetchResponse(ctx context.Context, rawURL string, class ratelimit.Class) (fetcher.Response, error)
}

// Putter writes objects to the media bucket.
type Putter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Hasher fingerprints image payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock supplies the upload date used in keys.
type Clock interface {
	Now() time.Time
}

// UploaderConfig controls key layout.
type UploaderConfig struct {
	KeyPrefix string
}

// Uploader downloads, validates and stores article images.
type Uploader struct {
	store  Putter
	hasher Hasher
	clock  Clock
	prefix string
	logger *zap.Logger
}

// NewUploader creates an Uploader.
func NewUploader(store Putter, hasher Hasher, clock Clock, cfg UploaderConfig, logger *zap.Logger) *Uploader {
	return &Uploader{
		store:  store,
		hasher: hasher,
		clock:  clock,
		prefix: strings.Trim(cfg.KeyPrefix, "/"),
		logger: logging.OrNop(logger),
	}
}

// Upload fetches imageURL with f and stores it, returning the storage key.
func (u *Uploader) Upload(ctx context.Context, f Fetcher, source, imageURL string) (string, error) {
	resp, err := f.FetchResponse(ctx, imageURL, ratelimit.ClassImage)
	if err != nil {
		metrics.ObserveMediaUpload(source, "fetch_failed")
		return "", fmt.Errorf("download image: %w", err)
	}
	key, err := u.Store(ctx, source, resp.Body)
	if err != nil {
		return "", err
	}
	u.logger.Debug("image uploaded",
		zap.String("source", source), zap.String("url", imageURL), zap.String("storage_key", key))
	return key, nil
}

// Store validates data and uploads it under a content-addressed, dated key.
func (u *Uploader) Store(ctx context.Context, source string, data []byte) (string, error) {
	ext, contentType, err := DetectImage(data)
	if err != nil {
		metrics.ObserveMediaUpload(source, "invalid")
		return "", err
	}
	digest, err := u.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash image: %w", err)
	}
	if len(digest) > 12 {
		digest = digest[:12]
	}
	key := u.Key(source, u.clock.Now(), digest, ext)
	if err := u.store.PutObject(ctx, key, data, contentType); err != nil {
		metrics.ObserveMediaUpload(source, "put_failed")
		return "", fmt.Errorf("put image: %w", err)
	}
	metrics.ObserveMediaUpload(source, "uploaded")
	return key, nil
}

// Key builds {prefix}/{source}/yyyy/mm/dd/{digest}.{ext}.
func (u *Uploader) Key(source string, at time.Time, digest, ext string) string {
	at = at.UTC()
	parts := []string{
		source,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		digest + "." + ext,
	}
	if u.prefix != "" {
		parts = append([]string{u.prefix}, parts...)
	}
	return path.Join(parts...)
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

// DetectImage sniffs the format from magic bytes and returns the file
// extension and content type.
func DetectImage(data []byte) (string, string, error) {
	if len(data) < MinImageBytes {
		return "", "", fmt.Errorf("%w: %d bytes", ErrInvalidImage, len(data))
	}
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return "jpg", "image/jpeg", nil
	case bytes.HasPrefix(data, pngMagic):
		return "png", "image/png", nil
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "gif", "image/gif", nil
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp", "image/webp", nil
	default:
		return "", "", fmt.Errorf("%w: unrecognized format", ErrInvalidImage)
	}
}
