package ingest

import (
	"context"
	"time"

	"github.com/ghalehnoei/news-scraper/internal/classify"
)

// ArticleStore persists articles. Insert runs in its own transaction and
// returns ErrDuplicate on a unique violation of the URL column.
type ArticleStore interface {
	ExistsURL(ctx context.Context, url string) (bool, error)
	ExistsURLPrefix(ctx context.Context, prefix string) (bool, error)
	Insert(ctx context.Context, article Article) error
}

// SourceRegistry tracks operator-controlled source state.
type SourceRegistry interface {
	EnsureSources(ctx context.Context, sources []SourceState) error
	ListSources(ctx context.Context) ([]SourceState, error)
	MarkRun(ctx context.Context, name string, at time.Time) error
}

// Publisher emits ArticleIngested events.
type Publisher interface {
	PublishArticle(ctx context.Context, event ArticleIngested) error
}

// MediaResolver canonicalizes a media reference, returning it unchanged on failure.
type MediaResolver interface {
	Resolve(ref string) string
}

// Classifier normalizes raw category labels.
type Classifier interface {
	Normalize(source, raw string) (classify.Category, string)
}

// IDGenerator produces article IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
