package headless

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalehnoei/news-scraper/internal/fetcher"
)

type stubDoer struct {
	resp  fetcher.Response
	err   error
	calls int
}

func (s *stubDoer) Do(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	s.calls++
	resp := s.resp
	resp.URL = req.URL
	return resp, s.err
}

func TestPromotingShouldPromote(t *testing.T) {
	t.Parallel()

	p := NewPromoting(&stubDoer{}, &stubDoer{}, 0, nil)
	article := "<html><body><article>" + strings.Repeat("خبر مهم امروز ", 300) + "</article></body></html>"

	cases := []struct {
		name string
		resp fetcher.Response
		want bool
	}{
		{"empty body", fetcher.Response{StatusCode: 200}, true},
		{"next shell", fetcher.Response{StatusCode: 200, Body: []byte(article + `<div id="__next"></div>`)}, true},
		{"script heavy", fetcher.Response{StatusCode: 200, Body: []byte(`<html><script>var a=1;var b=2;var c=3;</script><p>x</p></html>`)}, true},
		{"unclosed script", fetcher.Response{StatusCode: 200, Body: []byte(`<p>hi</p><script>boot()`)}, true},
		{"plain article", fetcher.Response{StatusCode: 200, Body: []byte(article)}, false},
		{"non-200", fetcher.Response{StatusCode: 404}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, p.ShouldPromote(tc.resp))
		})
	}
}

func TestPromotingDo(t *testing.T) {
	t.Parallel()

	t.Run("keeps plain response", func(t *testing.T) {
		t.Parallel()
		plain := &stubDoer{resp: fetcher.Response{StatusCode: 200, Body: []byte(strings.Repeat("<p>text</p>", 400))}}
		renderer := &stubDoer{}
		resp, err := NewPromoting(plain, renderer, 0, nil).Do(context.Background(), fetcher.Request{URL: "https://a.test/1"})
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Zero(t, renderer.calls)
	})

	t.Run("renders shell", func(t *testing.T) {
		t.Parallel()
		plain := &stubDoer{resp: fetcher.Response{StatusCode: 200, Body: []byte(`<div id="root"></div>`)}}
		renderer := &stubDoer{resp: fetcher.Response{StatusCode: 200, Body: []byte("<article>rendered</article>")}}
		resp, err := NewPromoting(plain, renderer, 0, nil).Do(context.Background(), fetcher.Request{URL: "https://a.test/2"})
		require.NoError(t, err)
		assert.Equal(t, "<article>rendered</article>", string(resp.Body))
		assert.Equal(t, 1, renderer.calls)
	})

	t.Run("falls back when render fails", func(t *testing.T) {
		t.Parallel()
		plain := &stubDoer{resp: fetcher.Response{StatusCode: 200, Body: []byte(`<div id="app"></div>`)}}
		renderer := &stubDoer{err: errors.New("chrome crashed")}
		resp, err := NewPromoting(plain, renderer, 0, nil).Do(context.Background(), fetcher.Request{URL: "https://a.test/3"})
		require.NoError(t, err)
		assert.Equal(t, `<div id="app"></div>`, string(resp.Body))
	})

	t.Run("plain transport error", func(t *testing.T) {
		t.Parallel()
		plain := &stubDoer{err: errors.New("dial tcp: refused")}
		renderer := &stubDoer{}
		_, err := NewPromoting(plain, renderer, 0, nil).Do(context.Background(), fetcher.Request{URL: "https://a.test/4"})
		require.Error(t, err)
		assert.Zero(t, renderer.calls)
	})
}
