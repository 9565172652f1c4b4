// Package ingest stores each article at most once per canonical URL.
package ingest

import (
	"errors"
	"time"

	"github.com/ghalehnoei/news-scraper/internal/classify"
)

// Column widths enforced before persistence.
const (
	MaxTitleRunes       = 500
	MaxRawCategoryRunes = 200
	MaxURLRunes         = 1000
)

var (
	// ErrDuplicate is returned by stores when the canonical URL already exists.
	ErrDuplicate = errors.New("duplicate article url")
	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("not found")
)

// Article is the persisted, write-once entity.
type Article struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	BodyHTML    string            `json:"body_html"`
	Summary     string            `json:"summary"`
	PublishedAt string            `json:"published_at"`
	ImageKey    string            `json:"image_url"`
	Category    classify.Category `json:"category"`
	RawCategory string            `json:"raw_category"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Content is what an extractor produces from fetched bytes.
type Content struct {
	Title       string
	BodyHTML    string
	Summary     string
	RawCategory string
	PublishedAt string
	MediaRef    string
}

// Request is one candidate article with already extracted content.
type Request struct {
	Source  string
	URL     string
	Content Content
}

// Status is the terminal state of one ingestion.
type Status string

// Ingestion statuses.
const (
	StatusInserted  Status = "inserted"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Outcome reports what happened to one candidate. It is a value, never an error.
type Outcome struct {
	Status    Status
	URL       string
	ArticleID string
	Reason    string
	// Err carries the underlying cause of a failed outcome for errors.Is checks.
	Err error
}

// Inserted builds a successful outcome.
func Inserted(url, id string) Outcome {
	return Outcome{Status: StatusInserted, URL: url, ArticleID: id}
}

// Duplicate builds a no-op outcome.
func Duplicate(url string) Outcome {
	return Outcome{Status: StatusDuplicate, URL: url}
}

// Failed builds a failure outcome.
func Failed(url, reason string, err error) Outcome {
	return Outcome{Status: StatusFailed, URL: url, Reason: reason, Err: err}
}

// SourceState is a row of the source registry.
type SourceState struct {
	Name            string     `json:"name"`
	IntervalMinutes int        `json:"interval_minutes"`
	Enabled         bool       `json:"enabled"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
}

// ArticleIngested is published after a successful insert.
type ArticleIngested struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	URL       string            `json:"url"`
	Category  classify.Category `json:"category"`
	ImageKey  string            `json:"image_key,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
