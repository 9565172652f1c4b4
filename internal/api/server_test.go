package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ghalehnoei/news-scraper/internal/classify"
	"github.com/ghalehnoei/news-scraper/internal/ingest"
	"github.com/ghalehnoei/news-scraper/internal/media"
	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
	"github.com/ghalehnoei/news-scraper/internal/storage/memory"
)

type testEnv struct {
	server *Server
	store  *memory.ArticleStore
	blobs  *memory.BlobStore
}

func newTestEnv(t *testing.T, apiKey string) testEnv {
	t.Helper()
	tables, err := classify.DefaultTables()
	require.NoError(t, err)

	store := memory.NewArticleStore()
	require.NoError(t, store.EnsureSources(context.Background(), []ingest.SourceState{
		{Name: "mehrnews", IntervalMinutes: 5, Enabled: true},
		{Name: "isna", IntervalMinutes: 5, Enabled: false},
	}))
	blobs := memory.NewBlobStore("news-images")
	resolver := media.NewResolver(blobs, media.ResolverConfig{
		Endpoint: "http://minio:9000", Bucket: "news-images", PresignTTL: time.Hour,
	}, nil)

	deps := Deps{
		Sources: []SourceInfo{
			{Name: "mehrnews", Kind: "rss", URL: "https://mehrnews.example/rss", Interval: 5 * time.Minute},
			{Name: "isna", Kind: "html", URL: "https://isna.example/latest", Interval: 5 * time.Minute},
			{Name: "fresh", Kind: "rss", URL: "https://fresh.example/rss", Interval: time.Minute},
		},
		Registry:   store,
		Pinger:     store,
		Media:      resolver,
		Classifier: classify.New(tables, nil),
		Limiter:    ratelimit.New(ratelimit.Settings{MaxRequestsPerWindow: 60}),
	}
	return testEnv{server: NewServer(deps, apiKey, nil), store: store, blobs: blobs}
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := do(t, env.server.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, env.server.Handler(), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyzReportsStoreFailure(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{Pinger: failingPinger{}}, "", nil)
	rec := do(t, s.Handler(), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	do(t, env.server.Handler(), http.MethodGet, "/healthz", nil)
	rec := do(t, env.server.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestListSourcesMergesRegistryState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	at := time.Date(2025, 12, 30, 9, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.MarkRun(context.Background(), "mehrnews", at))

	rec := do(t, env.server.Handler(), http.MethodGet, "/v1/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sources []struct {
			Name      string     `json:"name"`
			Enabled   bool       `json:"enabled"`
			LastRunAt *time.Time `json:"last_run_at"`
			RateLimit *struct {
				MaxRequestsPerWindow int `json:"max_requests_per_window"`
			} `json:"rate_limit"`
		} `json:"sources"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Sources, 3)

	assert.Equal(t, "mehrnews", body.Sources[0].Name)
	assert.True(t, body.Sources[0].Enabled)
	require.NotNil(t, body.Sources[0].LastRunAt)
	assert.True(t, at.Equal(*body.Sources[0].LastRunAt))
	require.NotNil(t, body.Sources[0].RateLimit)
	assert.Equal(t, 60, body.Sources[0].RateLimit.MaxRequestsPerWindow)

	assert.False(t, body.Sources[1].Enabled)
	assert.True(t, body.Sources[2].Enabled, "sources missing from the registry default to enabled")
}

func TestSetEnabled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := do(t, env.server.Handler(), http.MethodPost, "/v1/sources/isna/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	states, err := env.store.ListSources(context.Background())
	require.NoError(t, err)
	for _, st := range states {
		assert.True(t, st.Enabled, st.Name)
	}

	rec = do(t, env.server.Handler(), http.MethodPost, "/v1/sources/unknown/disable", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMediaPresignsStoredReference(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	ref := "http://minio:9000/news-images/mehrnews/2025/12/30/abc.jpg?X-Amz-Date=stale"
	rec := do(t, env.server.Handler(), http.MethodGet, "/v1/media?ref="+url.QueryEscape(ref), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body mediaResponse
	decode(t, rec, &body)
	assert.Equal(t, "mehrnews/2025/12/30/abc.jpg", body.Key)
	assert.True(t, body.Presigned)
	assert.False(t, body.Fallback)
	assert.True(t, strings.HasPrefix(body.URL, "memory://news-images/mehrnews/2025/12/30/abc.jpg?"))
	assert.True(t, media.IsPresigned(body.URL))
}

func TestMediaFallsBackOnPresignFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	env.blobs.FailPresign(errors.New("store down"))
	rec := do(t, env.server.Handler(), http.MethodGet, "/v1/media?ref=mehrnews/a.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body mediaResponse
	decode(t, rec, &body)
	assert.Equal(t, "mehrnews/a.jpg", body.URL)
	assert.True(t, body.Fallback)
	assert.False(t, body.Presigned)
	assert.Contains(t, body.Error, "store down")
}

func TestMediaRequiresRef(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	rec := do(t, env.server.Handler(), http.MethodGet, "/v1/media", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyPreview(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "")
	q := url.Values{"source": {"mehrnews"}, "raw": {"ورزشی"}}
	rec := do(t, env.server.Handler(), http.MethodGet, "/v1/classify?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "sports", body["category"])
	assert.Equal(t, "ورزشی", body["raw_category"])
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "secret")
	h := env.server.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/sources", nil).Code)
	require.Equal(t, http.StatusUnauthorized,
		do(t, h, http.MethodGet, "/v1/sources", http.Header{"X-Api-Key": {"wrong"}}).Code)
	require.Equal(t, http.StatusOK,
		do(t, h, http.MethodGet, "/v1/sources", http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusOK,
		do(t, h, http.MethodGet, "/v1/sources", http.Header{"Authorization": {"Bearer secret"}}).Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	h := requestIDMiddleware(recoverMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := do(t, h, http.MethodGet, "/", http.Header{"X-Request-Id": {"req-1"}})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-1", logs.All()[0].ContextMap()["request_id"])
}

func TestAccessLog(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	s := NewServer(Deps{}, "", zap.New(core))
	do(t, s.Handler(), http.MethodGet, "/healthz", nil)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/healthz", entries[0].ContextMap()["path"])
	assert.EqualValues(t, http.StatusOK, entries[0].ContextMap()["status"])
}
