package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/clock/system"
	"github.com/ghalehnoei/news-scraper/internal/id/uuid"
	"github.com/ghalehnoei/news-scraper/internal/logging"
	"github.com/ghalehnoei/news-scraper/internal/metrics"
)

// DefaultPersistTimeout bounds a single insert once it has started.
const DefaultPersistTimeout = 15 * time.Second

// ExtractFunc produces content for a candidate that passed the existence check.
type ExtractFunc func(ctx context.Context) (Content, error)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher emits an event after each insert.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithIDGenerator overrides UUIDv7 article IDs.
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Coordinator) {
		if ids != nil {
			c.ids = ids
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logging.OrNop(logger)
	}
}

// WithPersistTimeout bounds the insert, which runs detached from caller cancellation.
func WithPersistTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.persistTimeout = d
		}
	}
}

// WithPrefixMatch toggles the prefix tier of the existence check. It is on by
// default and can match unrelated URLs that share a prefix.
func WithPrefixMatch(enabled bool) Option {
	return func(c *Coordinator) {
		c.prefixMatch = enabled
	}
}

// Coordinator runs one article through existence check, extraction, media
// resolution, classification and persistence.
type Coordinator struct {
	store          ArticleStore
	media          MediaResolver
	classifier     Classifier
	publisher      Publisher
	ids            IDGenerator
	clock          Clock
	logger         *zap.Logger
	persistTimeout time.Duration
	prefixMatch    bool
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(store ArticleStore, media MediaResolver, classifier Classifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		media:          media,
		classifier:     classifier,
		ids:            uuid.NewUUIDGenerator(),
		clock:          system.New(),
		logger:         zap.NewNop(),
		persistTimeout: DefaultPersistTimeout,
		prefixMatch:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ingest stores already extracted content.
func (c *Coordinator) Ingest(ctx context.Context, req Request) Outcome {
	content := req.Content
	return c.IngestFunc(ctx, req.Source, req.URL, func(context.Context) (Content, error) {
		return content, nil
	})
}

// IngestFunc checks for an existing row before calling extract, so known
// articles cost no further network I/O.
func (c *Coordinator) IngestFunc(ctx context.Context, source, rawURL string, extract ExtractFunc) Outcome {
	ctx, span := otel.Tracer("github.com/ghalehnoei/news-scraper/internal/ingest").Start(ctx, "ingest")
	defer span.End()
	span.SetAttributes(attribute.String("news.source", source), attribute.String("url.full", rawURL))

	out := c.ingest(ctx, source, rawURL, extract)
	span.SetAttributes(attribute.String("news.outcome", string(out.Status)))
	if out.Status == StatusFailed {
		span.SetStatus(codes.Error, out.Reason)
	}
	metrics.ObserveIngest(source, string(out.Status))
	return out
}

func (c *Coordinator) ingest(ctx context.Context, source, rawURL string, extract ExtractFunc) Outcome {
	canonical := CanonicalURL(rawURL)
	if canonical == "" {
		return Failed(rawURL, "empty url", nil)
	}
	if utf8.RuneCountInString(canonical) > MaxURLRunes {
		return Failed(canonical, fmt.Sprintf("url exceeds %d characters", MaxURLRunes), nil)
	}

	exists, err := c.exists(ctx, canonical, rawURL)
	if err != nil {
		c.logger.Warn("existence check failed",
			zap.String("source", source), zap.String("url", canonical), zap.Error(err))
		return Failed(canonical, "existence check", err)
	}
	if exists {
		return Duplicate(canonical)
	}
	if err := ctx.Err(); err != nil {
		return Failed(canonical, "canceled", err)
	}

	content, err := extract(ctx)
	if err != nil {
		return Failed(canonical, fmt.Sprintf("extract: %v", err), err)
	}

	article, err := c.build(source, canonical, content)
	if err != nil {
		return Failed(canonical, err.Error(), err)
	}
	return c.persist(ctx, article)
}

// exists runs the normalized, raw and prefix tiers in order.
func (c *Coordinator) exists(ctx context.Context, canonical, rawURL string) (bool, error) {
	found, err := c.store.ExistsURL(ctx, canonical)
	if err != nil || found {
		return found, wrapExists(err)
	}
	if rawURL != canonical {
		found, err = c.store.ExistsURL(ctx, rawURL)
		if err != nil || found {
			return found, wrapExists(err)
		}
	}
	if !c.prefixMatch {
		return false, nil
	}
	found, err = c.store.ExistsURLPrefix(ctx, canonical)
	return found, wrapExists(err)
}

func wrapExists(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("check existing url: %w", err)
}

func (c *Coordinator) build(source, canonical string, content Content) (Article, error) {
	id, err := c.ids.NewID()
	if err != nil {
		return Article{}, fmt.Errorf("article id: %w", err)
	}
	article := Article{
		ID:          id,
		Source:      source,
		URL:         canonical,
		Title:       truncateRunes(content.Title, MaxTitleRunes),
		BodyHTML:    content.BodyHTML,
		Summary:     content.Summary,
		PublishedAt: content.PublishedAt,
		CreatedAt:   c.clock.Now(),
	}
	if content.MediaRef != "" && c.media != nil {
		article.ImageKey = c.media.Resolve(content.MediaRef)
	}
	if c.classifier != nil {
		category, raw := c.classifier.Normalize(source, content.RawCategory)
		article.Category = category
		article.RawCategory = truncateRunes(raw, MaxRawCategoryRunes)
	}
	return article, nil
}

// persist is detached from caller cancellation so a shutdown cannot interrupt a write.
func (c *Coordinator) persist(ctx context.Context, article Article) Outcome {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.persistTimeout)
	defer cancel()

	if err := c.store.Insert(writeCtx, article); err != nil {
		if errors.Is(err, ErrDuplicate) {
			c.logger.Debug("duplicate at insert",
				zap.String("source", article.Source), zap.String("url", article.URL))
			return Duplicate(article.URL)
		}
		c.logger.Error("persist article",
			zap.String("source", article.Source), zap.String("url", article.URL), zap.Error(err))
		return Failed(article.URL, fmt.Sprintf("persist: %v", err), err)
	}

	if c.publisher != nil {
		event := ArticleIngested{
			ID:        article.ID,
			Source:    article.Source,
			URL:       article.URL,
			Category:  article.Category,
			ImageKey:  article.ImageKey,
			CreatedAt: article.CreatedAt,
		}
		if err := c.publisher.PublishArticle(writeCtx, event); err != nil {
			c.logger.Warn("publish article event",
				zap.String("source", article.Source), zap.String("url", article.URL), zap.Error(err))
		}
	}
	return Inserted(article.URL, article.ID)
}
