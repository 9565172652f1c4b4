package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockObjectStore is a testify mock of ObjectStore.
type MockObjectStore struct {
	mock.Mock
}

// EnsureBucket records the call.
func (m *MockObjectStore) EnsureBucket(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0) //nolint:wrapcheck
}

// PutObject records the call.
func (m *MockObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0) //nolint:wrapcheck
}

// PresignGet records the call.
func (m *MockObjectStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
