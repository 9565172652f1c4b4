// Package media canonicalizes stored media references into storage keys,
// issues time-limited read URLs and uploads downloaded article images.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/logging"
	"github.com/ghalehnoei/news-scraper/internal/metrics"
)

// ErrUnresolvableReference means no storage key can be derived from a reference.
var ErrUnresolvableReference = errors.New("unresolvable media reference")

// DefaultPresignTTL is used when ResolverConfig.PresignTTL is unset.
const DefaultPresignTTL = time.Hour

// Presigner issues read URLs for storage keys.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ResolverConfig locates the bucket that historical references point into.
type ResolverConfig struct {
	Endpoint   string
	Bucket     string
	PresignTTL time.Duration
}

// Resolver converts media references to storage keys and read URLs.
type Resolver struct {
	store    Presigner
	endpoint string
	bucket   string
	ttl      time.Duration
	logger   *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store Presigner, cfg ResolverConfig, logger *zap.Logger) *Resolver {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &Resolver{
		store:    store,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		bucket:   strings.Trim(cfg.Bucket, "/"),
		ttl:      ttl,
		logger:   logging.OrNop(logger),
	}
}

// TTL returns the default lifetime of issued URLs.
func (r *Resolver) TTL() time.Duration {
	return r.ttl
}

// ToStorageKey derives the canonical bucket-relative key for ref. The first
// matching form wins: s3:// URL, endpoint URL, bare relative path, anything else
// taken as already canonical.
func (r *Resolver) ToStorageKey(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrUnresolvableReference
	}
	scheme, host, decodedPath := splitReference(ref)
	decodedPath = stripQuery(decodedPath)
	clean := (&url.URL{Scheme: scheme, Host: host}).String() + decodedPath
	if scheme == "" && host == "" {
		clean = decodedPath
	}

	var key string
	switch {
	case strings.HasPrefix(clean, "s3://"):
		rest := strings.TrimPrefix(clean, "s3://")
		if _, after, found := strings.Cut(rest, "/"); found {
			key = after
		} else {
			key = rest
		}
	case r.endpoint != "" && strings.HasPrefix(clean, r.endpoint):
		key = r.stripEndpoint(clean, decodedPath)
	case scheme == "" && host == "":
		key = strings.TrimLeft(decodedPath, "/")
	default:
		key = clean
	}

	key = stripQuery(key)
	if key == "" {
		return "", ErrUnresolvableReference
	}
	return key, nil
}

func (r *Resolver) stripEndpoint(clean, decodedPath string) string {
	withSlash := r.endpoint + "/" + r.bucket + "/"
	if strings.HasPrefix(clean, withSlash) {
		return strings.TrimPrefix(clean, withSlash)
	}
	bare := r.endpoint + "/" + r.bucket
	if strings.HasPrefix(clean, bare) {
		return strings.TrimLeft(strings.TrimPrefix(clean, bare), "/")
	}
	// Historical double-prefixing: /news-images/news-images/source/...
	parts := strings.Split(strings.TrimLeft(decodedPath, "/"), "/")
	if len(parts) > 1 && parts[0] == parts[1] {
		return strings.Join(parts[1:], "/")
	}
	return strings.TrimLeft(decodedPath, "/")
}

// splitReference returns the scheme, host and unescaped path of ref. A literal
// '%' that is not a valid escape (100%.jpg) leaves the raw path undecoded.
func splitReference(ref string) (scheme, host, path string) {
	if parsed, err := url.Parse(ref); err == nil {
		path = parsed.Path
		// Stale query strings were sometimes URL-encoded into the path itself.
		if unescaped, err := url.PathUnescape(parsed.EscapedPath()); err == nil {
			path = unescaped
		}
		return parsed.Scheme, parsed.Host, path
	}
	raw := stripQuery(ref)
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return "", "", raw
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return scheme, rest[:i], rest[i:]
	}
	return scheme, rest, ""
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

// IsPresigned reports whether u already carries a signature query parameter.
func IsPresigned(u string) bool {
	_, rawQuery, found := strings.Cut(u, "?")
	if !found {
		return false
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return strings.Contains(strings.ToLower(rawQuery), "signature")
	}
	for name := range values {
		if strings.Contains(strings.ToLower(name), "signature") {
			return true
		}
	}
	return false
}

// Presign issues a fresh read URL for key. A non-positive ttl uses the configured default.
func (r *Resolver) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if r.store == nil {
		return "", fmt.Errorf("presign %s: no object store configured", key)
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	signed, err := r.store.PresignGet(ctx, key, ttl)
	if err != nil {
		metrics.ObservePresignFailure()
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return signed, nil
}

// ReadURL returns a URL a client can fetch ref from. Already presigned
// references are returned unchanged. On failure the original reference is
// returned together with the error so callers can fall back to it.
func (r *Resolver) ReadURL(ctx context.Context, ref string) (string, error) {
	if IsPresigned(ref) {
		return ref, nil
	}
	key, err := r.ToStorageKey(ref)
	if err != nil {
		return ref, err
	}
	signed, err := r.Presign(ctx, key, r.ttl)
	if err != nil {
		r.logger.Warn("presign failed, keeping original reference",
			zap.String("storage_key", key), zap.Error(err))
		return ref, err
	}
	return signed, nil
}

// Resolve returns the storage key for ref, or ref itself when no key can be derived.
func (r *Resolver) Resolve(ref string) string {
	if IsPresigned(ref) {
		return ref
	}
	key, err := r.ToStorageKey(ref)
	if err != nil {
		r.logger.Warn("media reference kept as-is", zap.String("url", ref), zap.Error(err))
		return ref
	}
	return key
}
