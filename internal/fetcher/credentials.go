package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// StaticBearer sends a fixed bearer token.
type StaticBearer struct {
	Token string
}

// Credentials returns the Authorization header.
func (s StaticBearer) Credentials(context.Context) (http.Header, error) {
	return bearerHeader(s.Token)
}

// EnvBearer reads a bearer token from an environment variable on every request,
// so a rotated token is picked up at the next poll cycle.
type EnvBearer struct {
	Variable string
}

// Credentials returns the Authorization header.
func (e EnvBearer) Credentials(context.Context) (http.Header, error) {
	token := os.Getenv(e.Variable)
	if token == "" {
		return nil, fmt.Errorf("bearer token variable %s is empty: %w", e.Variable, ErrAuthentication)
	}
	return bearerHeader(token)
}

func bearerHeader(token string) (http.Header, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("bearer token is empty: %w", ErrAuthentication)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}
