package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ghalehnoei/news-scraper/internal/ingest"
)

// Selectors are CSS selectors for one source's article page.
type Selectors struct {
	Title     string
	Body      string
	Summary   string
	Category  string
	Published string
	Image     string
}

// SelectorExtractor extracts content with per-source CSS selectors. Fields
// the page does not yield fall back to page metadata and then to feed data.
type SelectorExtractor struct {
	Selectors Selectors
}

// nonContentSelectors are stripped from the body before it is stored.
const nonContentSelectors = "script, style, noscript, iframe"

// Extract parses page.Body.
func (e SelectorExtractor) Extract(page Page) (ingest.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return ingest.Content{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return ingest.Content{}, fmt.Errorf("parse page url: %w", err)
	}

	s := e.Selectors
	content := ingest.Content{
		Title:       firstNonEmpty(text(doc, s.Title), meta(doc, "og:title"), text(doc, "title")),
		BodyHTML:    body(doc, s.Body),
		Summary:     firstNonEmpty(text(doc, s.Summary), meta(doc, "description"), meta(doc, "og:description")),
		RawCategory: text(doc, s.Category),
		PublishedAt: firstNonEmpty(published(doc, s.Published), meta(doc, "article:published_time")),
	}
	if img := firstNonEmpty(attr(doc, s.Image, "src", "data-src", "content", "href"), meta(doc, "og:image")); img != "" {
		content.MediaRef = resolve(base, img)
	}

	if feed := page.Candidate.Feed; feed != nil {
		content = Merge(content, *feed)
	}
	if content.Title == "" && content.BodyHTML == "" {
		return ingest.Content{}, ErrNoContent
	}
	return content, nil
}

// Merge fills empty fields of primary from fallback.
func Merge(primary, fallback ingest.Content) ingest.Content {
	primary.Title = firstNonEmpty(primary.Title, fallback.Title)
	primary.BodyHTML = firstNonEmpty(primary.BodyHTML, fallback.BodyHTML)
	primary.Summary = firstNonEmpty(primary.Summary, fallback.Summary)
	primary.RawCategory = firstNonEmpty(primary.RawCategory, fallback.RawCategory)
	primary.PublishedAt = firstNonEmpty(primary.PublishedAt, fallback.PublishedAt)
	primary.MediaRef = firstNonEmpty(primary.MediaRef, fallback.MediaRef)
	return primary
}

func text(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return collapse(doc.Find(selector).First().Text())
}

func body(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	sel.Find(nonContentSelectors).Remove()
	html, err := sel.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(html)
}

func published(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	sel := doc.Find(selector).First()
	for _, name := range []string{"datetime", "content"} {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return collapse(sel.Text())
}

func attr(doc *goquery.Document, selector string, names ...string) string {
	if selector == "" {
		return ""
	}
	sel := doc.Find(selector).First()
	for _, name := range names {
		if v, ok := sel.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func meta(doc *goquery.Document, name string) string {
	query := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)
	v, _ := doc.Find(query).First().Attr("content")
	return strings.TrimSpace(v)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
