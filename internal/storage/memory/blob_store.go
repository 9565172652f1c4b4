// Package memory stores media objects in-process for development and tests.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Object is a stored payload with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore implements storage.ObjectStore in memory.
type BlobStore struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]Object
	presign func(key string) error
}

// NewBlobStore creates an empty in-memory store for bucket.
func NewBlobStore(bucket string) *BlobStore {
	if bucket == "" {
		bucket = "news-images"
	}
	return &BlobStore{
		bucket:  bucket,
		objects: make(map[string]Object),
	}
}

// FailPresign makes PresignGet return err for every key until cleared with nil.
func (s *BlobStore) FailPresign(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.presign = nil
		return
	}
	s.presign = func(string) error { return err }
}

// EnsureBucket always succeeds.
func (s *BlobStore) EnsureBucket(context.Context) error {
	return nil
}

// PutObject stores a copy of data under key.
func (s *BlobStore) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
	}
	return nil
}

// Get returns the object stored under key.
func (s *BlobStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// PresignGet returns a deterministic signed-looking URL for key.
func (s *BlobStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	hook := s.presign
	s.mu.RUnlock()
	if hook != nil {
		if err := hook(key); err != nil {
			return "", fmt.Errorf("presign %s: %w", key, err)
		}
	}
	expires := strconv.Itoa(int(ttl.Seconds()))
	sum := sha256.Sum256([]byte(s.bucket + "/" + key + "?" + expires))

	q := url.Values{}
	q.Set("X-Amz-Expires", expires)
	q.Set("X-Amz-Signature", hex.EncodeToString(sum[:]))
	u := url.URL{Scheme: "memory", Host: s.bucket, Path: "/" + key, RawQuery: q.Encode()}
	return u.String(), nil
}
