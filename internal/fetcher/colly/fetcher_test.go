package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/ghalehnoei/news-scraper/internal/fetcher"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "newsingest-test", Timeout: time.Second})
	collector := f.buildCollector(context.Background(), fetcher.Request{URL: "https://example.com"},
		&fetcher.Response{}, new(error))

	require.Equal(t, "newsingest-test", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.AllowURLRevisit)
	require.True(t, collector.ParseHTTPErrorResponse)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	require.Equal(t, defaultTimeout, f.cfg.Timeout)
	require.Equal(t, defaultConnectTimeout, f.cfg.ConnectTimeout)
	require.Equal(t, defaultMaxBodySize, f.cfg.MaxBodySize)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := fetcher.Request{
		URL:     "https://example.com",
		Headers: http.Header{"Authorization": {"Bearer abc"}},
	}
	var result fetcher.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "Bearer abc", collyReq.Headers.Get("Authorization"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusTooManyRequests,
		Body:       []byte("slow down"),
		Headers:    &http.Header{"Retry-After": {"30"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusTooManyRequests, result.StatusCode)
	require.Equal(t, "slow down", string(result.Body))
	require.Equal(t, "30", result.Headers.Get("Retry-After"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestDoReturnsErrorStatusesAsResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			require.Equal(t, "yes", r.Header.Get("X-Source"))
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte("<rss></rss>"))
		case "/limited":
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	ctx := context.Background()

	resp, err := f.Do(ctx, fetcher.Request{URL: srv.URL + "/ok", Headers: http.Header{"X-Source": {"yes"}}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<rss></rss>", string(resp.Body))

	resp, err = f.Do(ctx, fetcher.Request{URL: srv.URL + "/limited"})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "30", resp.Headers.Get("Retry-After"))

	resp, err = f.Do(ctx, fetcher.Request{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = f.Do(ctx, fetcher.Request{URL: srv.URL + "/ok", Headers: http.Header{"X-Source": {"yes"}}})
	require.NoError(t, err, "revisiting a URL must be allowed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoTransportErrorIsReturned(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second, ConnectTimeout: time.Second})
	_, err := f.Do(context.Background(), fetcher.Request{URL: addr})
	require.Error(t, err)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
