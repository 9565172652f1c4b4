package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/clock/system"
	"github.com/ghalehnoei/news-scraper/internal/metrics"
	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
)

const (
	defaultMaxRetries            = 3
	defaultRetryAfterCap         = 300 * time.Second
	defaultRateLimitBackoffCap   = 300 * time.Second
	defaultServerErrorBackoffCap = 60 * time.Second
	defaultRetryAfter            = 60 * time.Second
	maxRetryAfter                = 24 * time.Hour
	rateLimitBackoffBase         = 10 * time.Second
	serverErrorBackoffBase       = time.Second
)

// Config holds per-source fetch settings.
type Config struct {
	MaxRetries            int
	Headers               http.Header
	RetryAfterCap         time.Duration
	RateLimitBackoffCap   time.Duration
	ServerErrorBackoffCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryAfterCap <= 0 {
		c.RetryAfterCap = defaultRetryAfterCap
	}
	if c.RateLimitBackoffCap <= 0 {
		c.RateLimitBackoffCap = defaultRateLimitBackoffCap
	}
	if c.ServerErrorBackoffCap <= 0 {
		c.ServerErrorBackoffCap = defaultServerErrorBackoffCap
	}
	return c
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithCredentials authenticates every request with provider.
func WithCredentials(provider CredentialProvider) Option {
	return func(e *Executor) {
		e.credentials = provider
	}
}

// WithSleeper replaces the timer-based backoff sleep.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// WithClock replaces the clock used to evaluate HTTP-date Retry-After values.
func WithClock(c Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Executor runs logical fetches for one source through its rate limiter.
type Executor struct {
	source      string
	doer        Doer
	limiter     Acquirer
	cfg         Config
	credentials CredentialProvider
	sleep       func(ctx context.Context, d time.Duration) error
	clock       Clock
	logger      *zap.Logger
}

// New builds an Executor for source.
func New(source string, doer Doer, limiter Acquirer, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		source:  source,
		doer:    doer,
		limiter: limiter,
		cfg:     cfg.withDefaults(),
		sleep:   system.Sleep,
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fetch returns the body of rawURL using the configured retry budget.
func (e *Executor) Fetch(ctx context.Context, rawURL string, class ratelimit.Class) ([]byte, error) {
	resp, err := e.FetchResponse(ctx, rawURL, class)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchN returns the body of rawURL allowing maxRetries attempts per failure kind.
func (e *Executor) FetchN(ctx context.Context, rawURL string, class ratelimit.Class, maxRetries int) ([]byte, error) {
	resp, err := e.fetch(ctx, rawURL, class, maxRetries)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchResponse is Fetch returning the full response, headers included.
func (e *Executor) FetchResponse(ctx context.Context, rawURL string, class ratelimit.Class) (Response, error) {
	return e.fetch(ctx, rawURL, class, e.cfg.MaxRetries)
}

func (e *Executor) fetch(ctx context.Context, rawURL string, class ratelimit.Class, maxRetries int) (Response, error) {
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}
	ctx, span := otel.Tracer("github.com/ghalehnoei/news-scraper/internal/fetcher").Start(ctx, "fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("news.source", e.source),
		attribute.String("news.request_class", string(class)),
		attribute.String("url.full", rawURL),
	)

	resp, err := e.retryLoop(ctx, rawURL, class, maxRetries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return Response{}, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

func (e *Executor) retryLoop(ctx context.Context, rawURL string, class ratelimit.Class, maxRetries int) (Response, error) {
	headers, err := e.requestHeaders(ctx)
	if err != nil {
		return Response{}, &FetchError{URL: rawURL, Class: class, Reason: err.Error(), Err: ErrAuthentication}
	}

	var transient, throttled int
	for attemptNumber := 1; ; attemptNumber++ {
		if err := ctx.Err(); err != nil {
			return Response{}, e.canceled(rawURL, class, attemptNumber-1, err)
		}
		if err := e.limiter.Acquire(ctx, e.source, class); err != nil {
			return Response{}, e.canceled(rawURL, class, attemptNumber-1, err)
		}

		resp, doErr := e.doer.Do(ctx, Request{URL: rawURL, Headers: headers.Clone()})
		if doErr != nil && ctx.Err() != nil {
			return Response{}, e.canceled(rawURL, class, attemptNumber, ctx.Err())
		}
		out := e.classify(resp, doErr)
		metrics.ObserveFetchAttempt(e.source, string(class), out.kind.String(), len(resp.Body))

		var wait time.Duration
		switch out.kind {
		case outcomeSuccess:
			return resp, nil
		case outcomeNotFound:
			return Response{}, &FetchError{
				URL: rawURL, Class: class, Attempts: attemptNumber,
				StatusCode: out.status, Reason: out.reason, Err: ErrNotFound,
			}
		case outcomeAuth:
			return Response{}, &FetchError{
				URL: rawURL, Class: class, Attempts: attemptNumber,
				StatusCode: out.status, Reason: out.reason, Err: ErrAuthentication,
			}
		case outcomeRateLimited:
			throttled++
			if throttled >= maxRetries {
				return Response{}, e.exhausted(rawURL, class, attemptNumber, out)
			}
			wait = e.rateLimitWait(out, throttled-1)
		default:
			transient++
			if transient >= maxRetries {
				return Response{}, e.exhausted(rawURL, class, attemptNumber, out)
			}
			wait = backoff(serverErrorBackoffBase, transient-1, e.cfg.ServerErrorBackoffCap)
		}

		fields := []zap.Field{
			zap.String("source", e.source),
			zap.String("request_class", string(class)),
			zap.String("url", rawURL),
			zap.Int("attempt", attemptNumber),
			zap.Int("status", out.status),
			zap.String("reason", out.reason),
			zap.Duration("wait", wait),
		}
		if out.unexpected {
			e.logger.Warn("unexpected status, retrying", fields...)
		} else {
			e.logger.Info("retrying fetch", fields...)
		}
		if err := e.sleep(ctx, wait); err != nil {
			return Response{}, e.canceled(rawURL, class, attemptNumber, err)
		}
	}
}

func (e *Executor) requestHeaders(ctx context.Context) (http.Header, error) {
	headers := e.cfg.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if e.credentials == nil {
		return headers, nil
	}
	creds, err := e.credentials.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	for key, values := range creds {
		headers[key] = append([]string(nil), values...)
	}
	return headers, nil
}

func (e *Executor) canceled(rawURL string, class ratelimit.Class, attempts int, cause error) error {
	return &FetchError{
		URL: rawURL, Class: class, Attempts: attempts,
		Reason: cause.Error(), Err: errors.Join(ErrCanceled, cause),
	}
}

func (e *Executor) exhausted(rawURL string, class ratelimit.Class, attempts int, out attempt) error {
	e.logger.Warn("fetch retries exhausted",
		zap.String("source", e.source),
		zap.String("request_class", string(class)),
		zap.String("url", rawURL),
		zap.Int("attempt", attempts),
		zap.Int("status", out.status),
		zap.String("reason", out.reason),
	)
	return &FetchError{
		URL: rawURL, Class: class, Attempts: attempts,
		StatusCode: out.status, Reason: out.reason, Err: ErrRetriesExhausted,
	}
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryable
	outcomeRateLimited
	outcomeNotFound
	outcomeAuth
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSuccess:
		return "success"
	case outcomeRateLimited:
		return "rate_limited"
	case outcomeNotFound:
		return "not_found"
	case outcomeAuth:
		return "auth"
	default:
		return "retryable"
	}
}

// attempt is the classified result of one GET.
type attempt struct {
	kind          outcomeKind
	status        int
	reason        string
	unexpected    bool
	retryAfter    time.Duration
	hasRetryAfter bool
}

func (e *Executor) classify(resp Response, err error) attempt {
	if err != nil {
		return attempt{kind: outcomeRetryable, reason: err.Error()}
	}
	status := resp.StatusCode
	switch {
	case status == http.StatusOK:
		return attempt{kind: outcomeSuccess, status: status}
	case status == http.StatusNotFound:
		return attempt{kind: outcomeNotFound, status: status, reason: "not found"}
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden && e.credentials != nil:
		return attempt{kind: outcomeAuth, status: status, reason: http.StatusText(status)}
	case status == http.StatusTooManyRequests:
		out := attempt{kind: outcomeRateLimited, status: status, reason: "too many requests"}
		if raw := resp.Headers.Get("Retry-After"); raw != "" {
			out.retryAfter = parseRetryAfter(raw, e.clock.Now())
			out.hasRetryAfter = true
		}
		return out
	case status >= 500:
		return attempt{kind: outcomeRetryable, status: status, reason: "server error"}
	default:
		return attempt{kind: outcomeRetryable, status: status, reason: "unexpected status", unexpected: true}
	}
}

func (e *Executor) rateLimitWait(out attempt, exponent int) time.Duration {
	if out.hasRetryAfter {
		return min(out.retryAfter, e.cfg.RetryAfterCap)
	}
	return backoff(rateLimitBackoffBase, exponent, e.cfg.RateLimitBackoffCap)
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparsable values
// fall back to one minute.
func parseRetryAfter(raw string, now time.Time) time.Duration {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) {
			return 0
		}
		if secs > maxRetryAfter.Seconds() {
			return maxRetryAfter
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

// backoff returns min(2^exponent * base, ceiling).
func backoff(base time.Duration, exponent int, ceiling time.Duration) time.Duration {
	if exponent >= 30 {
		return ceiling
	}
	return min(base*time.Duration(1<<exponent), ceiling)
}
