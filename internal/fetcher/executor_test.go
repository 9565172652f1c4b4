package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
)

type step struct {
	resp Response
	err  error
}

type scriptedDoer struct {
	mu    sync.Mutex
	steps []step
	calls []Request
}

func (d *scriptedDoer) Do(_ context.Context, req Request) (Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req)
	if len(d.steps) == 0 {
		return Response{}, errors.New("script exhausted")
	}
	next := d.steps[0]
	d.steps = d.steps[1:]
	return next.resp, next.err
}

func status(code int, headers ...string) step {
	h := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return step{resp: Response{StatusCode: code, Headers: h, Body: []byte(http.StatusText(code))}}
}

type countingLimiter struct {
	mu      sync.Mutex
	classes []ratelimit.Class
}

func (l *countingLimiter) Acquire(_ context.Context, _ string, class ratelimit.Class) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.classes = append(l.classes, class)
	return nil
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) Credentials(ctx context.Context) (http.Header, error) {
	args := m.Called(ctx)
	h, _ := args.Get(0).(http.Header)
	return h, args.Error(1)
}

func newTestExecutor(doer Doer, sleeper *recordingSleeper, opts ...Option) (*Executor, *countingLimiter) {
	limiter := &countingLimiter{}
	opts = append([]Option{WithSleeper(sleeper.Sleep)}, opts...)
	return New("mehrnews", doer, limiter, Config{MaxRetries: 3}, opts...), limiter
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{status(http.StatusOK)}}
	sleeper := &recordingSleeper{}
	exec, limiter := newTestExecutor(doer, sleeper)

	body, err := exec.Fetch(context.Background(), "https://www.mehrnews.com/rss", ratelimit.ClassRSS)
	require.NoError(t, err)
	require.Equal(t, "OK", string(body))
	require.Len(t, doer.calls, 1)
	require.Empty(t, sleeper.slept)
	require.Equal(t, []ratelimit.Class{ratelimit.ClassRSS}, limiter.classes)
}

func TestFetchNotFoundIsTerminalWithoutSleep(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{status(http.StatusNotFound), status(http.StatusOK)}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://www.mehrnews.com/news/1", ratelimit.ClassArticle)
	require.ErrorIs(t, err, ErrNotFound)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	require.Equal(t, 1, fetchErr.Attempts)
	require.Len(t, doer.calls, 1)
	require.Empty(t, sleeper.slept)
}

func TestFetchHonorsRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{
		status(http.StatusTooManyRequests, "Retry-After", "30"),
		status(http.StatusOK),
	}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://api.example.com/feed", ratelimit.ClassAPI)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{30 * time.Second}, sleeper.slept)
}

func TestFetchRateLimitedUntilBudgetExhausted(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{
		status(http.StatusTooManyRequests, "Retry-After", "30"),
		status(http.StatusTooManyRequests, "Retry-After", "30"),
		status(http.StatusTooManyRequests, "Retry-After", "30"),
	}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://api.example.com/feed", ratelimit.ClassAPI)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusTooManyRequests, fetchErr.StatusCode)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sleeper.slept)
}

func TestFetchRateLimitedWithoutRetryAfterBacksOff(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{
		status(http.StatusTooManyRequests),
		status(http.StatusTooManyRequests),
		status(http.StatusOK),
	}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://www.isna.ir/rss", ratelimit.ClassRSS)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, sleeper.slept)
}

func TestFetchRetryAfterIsCapped(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{
		status(http.StatusTooManyRequests, "Retry-After", "1000"),
		status(http.StatusOK),
	}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://www.isna.ir/rss", ratelimit.ClassRSS)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{300 * time.Second}, sleeper.slept)
}

func TestFetchServerErrorsBackOffExponentially(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{
		status(http.StatusServiceUnavailable),
		status(http.StatusBadGateway),
		status(http.StatusServiceUnavailable),
		status(http.StatusOK),
	}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://www.irna.ir/rss", ratelimit.ClassRSS)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	require.Len(t, doer.calls, 3)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.slept)
}

func TestFetchTransportErrorIsRetried(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{
		{err: errors.New("dial tcp: i/o timeout")},
		status(http.StatusOK),
	}}
	sleeper := &recordingSleeper{}
	exec, limiter := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://www.tasnimnews.com/fa/rss", ratelimit.ClassRSS)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Second}, sleeper.slept)
	require.Len(t, limiter.classes, 2)
}

func TestFetchRateLimitsDoNotConsumeTransientBudget(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{
		status(http.StatusInternalServerError),
		status(http.StatusTooManyRequests, "Retry-After", "5"),
		status(http.StatusInternalServerError),
		status(http.StatusOK),
	}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://www.yjc.ir/fa/rss", ratelimit.ClassRSS)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{time.Second, 5 * time.Second, 2 * time.Second}, sleeper.slept)
}

func TestFetchUnexpectedStatusWarns(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	doer := &scriptedDoer{steps: []step{status(http.StatusTeapot), status(http.StatusOK)}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper, WithLogger(zap.New(core)))

	_, err := exec.Fetch(context.Background(), "https://www.ilna.ir/rss", ratelimit.ClassRSS)
	require.NoError(t, err)
	require.Equal(t, 1, logs.FilterMessage("unexpected status, retrying").Len())
}

func TestFetchUnauthorizedAbortsImmediately(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{status(http.StatusUnauthorized), status(http.StatusOK)}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.Fetch(context.Background(), "https://api.example.com/feed", ratelimit.ClassAPI)
	require.ErrorIs(t, err, ErrAuthentication)
	require.Len(t, doer.calls, 1)
	require.Empty(t, sleeper.slept)
}

func TestFetchCredentialFailureSkipsRequest(t *testing.T) {
	t.Parallel()

	creds := &mockCredentials{}
	creds.On("Credentials", mock.Anything).Return(nil, errors.New("token expired"))
	doer := &scriptedDoer{steps: []step{status(http.StatusOK)}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper, WithCredentials(creds))

	_, err := exec.Fetch(context.Background(), "https://api.example.com/feed", ratelimit.ClassAPI)
	require.ErrorIs(t, err, ErrAuthentication)
	require.Empty(t, doer.calls)
	creds.AssertExpectations(t)
}

func TestFetchSendsConfiguredAndCredentialHeaders(t *testing.T) {
	t.Parallel()

	creds := &mockCredentials{}
	creds.On("Credentials", mock.Anything).Return(http.Header{"Authorization": {"Bearer abc"}}, nil)
	doer := &scriptedDoer{steps: []step{status(http.StatusOK)}}
	exec := New("reuters_text", doer, &countingLimiter{}, Config{
		Headers: http.Header{"Accept": {"application/json"}},
	}, WithCredentials(creds))

	_, err := exec.Fetch(context.Background(), "https://api.example.com/items", ratelimit.ClassAPI)
	require.NoError(t, err)
	require.Len(t, doer.calls, 1)
	require.Equal(t, "Bearer abc", doer.calls[0].Headers.Get("Authorization"))
	require.Equal(t, "application/json", doer.calls[0].Headers.Get("Accept"))
}

func TestFetchForbiddenWithCredentialsIsAuthError(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{status(http.StatusForbidden)}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper, WithCredentials(StaticBearer{Token: "abc"}))

	_, err := exec.Fetch(context.Background(), "https://api.example.com/feed", ratelimit.ClassAPI)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestFetchCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	doer := &scriptedDoer{steps: []step{status(http.StatusServiceUnavailable), status(http.StatusOK)}}
	exec := New("fars", doer, &countingLimiter{}, Config{}, WithSleeper(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	_, err := exec.Fetch(ctx, "https://www.farsnews.ir/rss", ratelimit.ClassRSS)
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, doer.calls, 1)
}

func TestFetchNOverridesRetryBudget(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{steps: []step{status(http.StatusBadGateway), status(http.StatusBadGateway)}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper)

	_, err := exec.FetchN(context.Background(), "https://www.snn.ir/rss", ratelimit.ClassRSS, 1)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Len(t, doer.calls, 1)
	require.Empty(t, sleeper.slept)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{"seconds", "30", 30 * time.Second},
		{"padded", " 12 ", 12 * time.Second},
		{"negative", "-5", 0},
		{"http date", now.Add(45 * time.Second).Format(http.TimeFormat), 45 * time.Second},
		{"past date", now.Add(-time.Hour).Format(http.TimeFormat), 0},
		{"garbage", "soon", time.Minute},
		{"huge", "1e12", 24 * time.Hour},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, parseRetryAfter(tc.raw, now))
		})
	}
}

func TestRetryAfterDateUsesClock(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC)
	doer := &scriptedDoer{steps: []step{
		status(http.StatusTooManyRequests, "Retry-After", now.Add(90*time.Second).Format(http.TimeFormat)),
		status(http.StatusOK),
	}}
	sleeper := &recordingSleeper{}
	exec, _ := newTestExecutor(doer, sleeper, WithClock(fixedClock{now: now}))

	_, err := exec.Fetch(context.Background(), "https://api.example.com/feed", ratelimit.ClassAPI)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{90 * time.Second}, sleeper.slept)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, backoff(time.Second, 0, time.Minute))
	require.Equal(t, 32*time.Second, backoff(time.Second, 5, time.Minute))
	require.Equal(t, time.Minute, backoff(time.Second, 6, time.Minute))
	require.Equal(t, 300*time.Second, backoff(10*time.Second, 5, 300*time.Second))
	require.Equal(t, time.Minute, backoff(time.Second, 40, time.Minute))
}

func TestEnvBearer(t *testing.T) {
	t.Setenv("NEWSINGEST_TEST_TOKEN", "secret")

	h, err := EnvBearer{Variable: "NEWSINGEST_TEST_TOKEN"}.Credentials(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", h.Get("Authorization"))

	_, err = EnvBearer{Variable: "NEWSINGEST_TEST_TOKEN_MISSING"}.Credentials(context.Background())
	require.ErrorIs(t, err, ErrAuthentication)
}
