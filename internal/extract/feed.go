package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ghalehnoei/news-scraper/internal/ingest"
)

const httpPrefix = "http"

// FeedDiscoverer parses RSS, Atom and JSON feeds.
type FeedDiscoverer struct {
	// Source names synthetic URLs for items without a link.
	Source string
	// FollowLinks sets DetailURL so the worker fetches each article page.
	FollowLinks bool
}

// Discover parses body and returns one candidate per usable item, in feed order.
func (d FeedDiscoverer) Discover(ctx context.Context, _ string, body []byte) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	out := make([]Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		link := itemLink(item)
		content := itemContent(item)
		switch {
		case link != "":
			c := Candidate{URL: link, Feed: &content}
			if d.FollowLinks {
				c.DetailURL = link
			}
			out = append(out, c)
		case strings.TrimSpace(item.GUID) != "":
			out = append(out, Candidate{URL: ingest.SyntheticURL(d.Source, item.GUID), Feed: &content})
		}
	}
	return out, nil
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	if strings.HasPrefix(item.GUID, httpPrefix) {
		return strings.TrimSpace(item.GUID)
	}
	return ""
}

func itemContent(item *gofeed.Item) ingest.Content {
	content := ingest.Content{
		Title:    strings.TrimSpace(item.Title),
		BodyHTML: strings.TrimSpace(item.Content),
		Summary:  strings.TrimSpace(item.Description),
		MediaRef: itemImage(item),
	}
	if len(item.Categories) > 0 {
		content.RawCategory = strings.TrimSpace(item.Categories[0])
	}
	switch {
	case item.PublishedParsed != nil:
		content.PublishedAt = item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		content.PublishedAt = item.UpdatedParsed.UTC().Format(time.RFC3339)
	default:
		content.PublishedAt = strings.TrimSpace(item.Published)
	}
	return content
}

// itemImage prefers the item image, then image enclosures, then media:content.
func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	for _, name := range []string{"content", "thumbnail"} {
		for _, ext := range item.Extensions["media"][name] {
			if u := ext.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	return ""
}

// FeedExtractor returns the content carried by the feed item itself.
type FeedExtractor struct{}

// Extract ignores the page body.
func (FeedExtractor) Extract(page Page) (ingest.Content, error) {
	if page.Candidate.Feed == nil {
		return ingest.Content{}, ErrNoContent
	}
	content := *page.Candidate.Feed
	if content.Title == "" && content.BodyHTML == "" && content.Summary == "" {
		return ingest.Content{}, ErrNoContent
	}
	if content.BodyHTML == "" {
		content.BodyHTML = content.Summary
	}
	return content, nil
}
