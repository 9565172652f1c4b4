// Package fetcher performs rate-limited HTTP fetches with bounded retries.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
)

// Request is one outbound GET.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the raw result of one GET, whatever its status.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Doer issues a single GET without retrying. Transport failures are returned as
// errors; any HTTP status is returned as a Response.
type Doer interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Acquirer blocks until a request for (source, class) may be issued.
type Acquirer interface {
	Acquire(ctx context.Context, source string, class ratelimit.Class) error
}

// CredentialProvider supplies per-request authentication headers.
type CredentialProvider interface {
	Credentials(ctx context.Context) (http.Header, error)
}

var (
	// ErrNotFound marks a 404 response. It is never retried.
	ErrNotFound = errors.New("resource not found")
	// ErrRetriesExhausted marks a retryable failure that outlived its retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrAuthentication marks rejected or unavailable credentials.
	ErrAuthentication = errors.New("authentication failed")
	// ErrCanceled marks a fetch abandoned because its context ended.
	ErrCanceled = errors.New("fetch canceled")
)

// FetchError is the terminal failure of a logical fetch.
type FetchError struct {
	URL        string
	Class      ratelimit.Class
	Attempts   int
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s [%s]: %v: %s (status %d, %d attempts)",
			e.URL, e.Class, e.Err, e.Reason, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s [%s]: %v: %s (%d attempts)", e.URL, e.Class, e.Err, e.Reason, e.Attempts)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
