package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 2, cap(r.slots))
	require.Equal(t, defaultNavigationTimeout, r.cfg.NavigationTimeout)
	require.Equal(t, "body", r.cfg.WaitSelector)
	require.Equal(t, defaultSettleDelay, r.cfg.SettleDelay)
}

func TestNewChromedpKeepsOverrides(t *testing.T) {
	t.Parallel()

	r, err := NewChromedp(Config{NavigationTimeout: time.Second, WaitSelector: "article", SettleDelay: -1})
	require.NoError(t, err)
	defer r.Close()
	require.Nil(t, r.slots)
	require.Equal(t, time.Second, r.cfg.NavigationTimeout)
	require.Equal(t, "article", r.cfg.WaitSelector)
	require.Zero(t, r.cfg.SettleDelay)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{
		"X-Multi":  {"a", "b"},
		"X-Single": {"one"},
		"X-Empty":  {},
	})
	require.Equal(t, []string{"a", "b"}, netHeaders["X-Multi"])
	require.Equal(t, "one", netHeaders["X-Single"])
	_, ok := netHeaders["X-Empty"]
	require.False(t, ok)
}

func TestDocumentMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newDocumentMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://cdn/img.jpg"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://www.farsnews.ir/news/1",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads/frame"},
	})

	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://www.farsnews.ir/news/1", url)
}

func TestDocumentMetaFallbacks(t *testing.T) {
	t.Parallel()

	meta := newDocumentMeta()
	status, headers, url := meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}
