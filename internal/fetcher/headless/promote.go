package headless

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/fetcher"
)

const defaultPromoteThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Promoting fetches with a plain doer and re-renders through a browser when
// the response looks like an unrendered single-page app shell.
type Promoting struct {
	plain     fetcher.Doer
	renderer  fetcher.Doer
	threshold int
	logger    *zap.Logger
}

// NewPromoting wraps plain so that shell-like pages are fetched again via
// renderer. A threshold of zero selects the default body size cutoff.
func NewPromoting(plain, renderer fetcher.Doer, threshold int, logger *zap.Logger) *Promoting {
	if threshold <= 0 {
		threshold = defaultPromoteThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{plain: plain, renderer: renderer, threshold: threshold, logger: logger}
}

// Do implements fetcher.Doer.
func (p *Promoting) Do(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	resp, err := p.plain.Do(ctx, req)
	if err != nil || !p.ShouldPromote(resp) {
		return resp, err
	}
	p.logger.Debug("promoting fetch to headless", zap.String("url", req.URL), zap.Int("body_bytes", len(resp.Body)))
	rendered, err := p.renderer.Do(ctx, req)
	if err != nil {
		p.logger.Warn("headless promotion failed, keeping plain response", zap.String("url", req.URL), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}

// ShouldPromote reports whether resp needs a browser render to expose content.
func (p *Promoting) ShouldPromote(resp fetcher.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < p.threshold && scriptHeavy(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script elements cover at least a quarter of body.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		i := strings.Index(lower[pos:], "<script")
		if i < 0 {
			break
		}
		start := pos + i
		end := strings.Index(lower[start:], "</script>")
		if end < 0 {
			covered += total - start
			break
		}
		next := start + end + len("</script>")
		covered += next - start
		pos = next
	}
	return covered > 0 && covered*100/total >= 25
}
