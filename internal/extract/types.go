// Package extract discovers candidate articles in feeds and listing pages and
// turns fetched bytes into article content. Nothing here performs network I/O.
package extract

import (
	"context"
	"errors"

	"github.com/ghalehnoei/news-scraper/internal/ingest"
)

// ErrNoContent is returned when a page yields no usable title or body.
var ErrNoContent = errors.New("no extractable content")

// Candidate is one item found during discovery.
type Candidate struct {
	// URL identifies the article; synthetic for feed items without a link.
	URL string
	// DetailURL is the page to fetch for full content. Empty for feed-only items.
	DetailURL string
	// Feed holds content carried by the feed item, if any.
	Feed *ingest.Content
}

// Page is the input to an Extractor.
type Page struct {
	URL       string
	Body      []byte
	Candidate Candidate
}

// Discoverer lists candidates from a fetched feed or listing page.
type Discoverer interface {
	Discover(ctx context.Context, baseURL string, body []byte) ([]Candidate, error)
}

// Extractor produces article content from a page.
type Extractor interface {
	Extract(page Page) (ingest.Content, error)
}
