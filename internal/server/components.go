package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/classify"
	"github.com/ghalehnoei/news-scraper/internal/config"
	"github.com/ghalehnoei/news-scraper/internal/extract"
	"github.com/ghalehnoei/news-scraper/internal/fetcher"
	"github.com/ghalehnoei/news-scraper/internal/ingest"
	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/ghalehnoei/news-scraper/internal/publisher/memory"
	gcppublisher "github.com/ghalehnoei/news-scraper/internal/publisher/pubsub"
	"github.com/ghalehnoei/news-scraper/internal/storage"
	gcsstorage "github.com/ghalehnoei/news-scraper/internal/storage/gcs"
	memorystorage "github.com/ghalehnoei/news-scraper/internal/storage/memory"
	pgstore "github.com/ghalehnoei/news-scraper/internal/storage/postgres"
	s3storage "github.com/ghalehnoei/news-scraper/internal/storage/s3"
	sqlitestore "github.com/ghalehnoei/news-scraper/internal/storage/sqlite"
)

// Store is the persistence surface every driver provides.
type Store interface {
	ingest.ArticleStore
	ingest.SourceRegistry
	SetEnabled(ctx context.Context, name string, enabled bool) error
	Ping(ctx context.Context) error
}

type closeFunc func() error

// OpenStore opens the article store selected by db.driver and applies the schema.
func OpenStore(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (Store, closeFunc, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := pgstore.New(ctx, pgstore.Config{
			DSN:          cfg.DSN,
			Table:        cfg.Table,
			SourcesTable: cfg.SourcesTable,
			MaxConns:     cfg.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		logger.Info("using postgres article store", zap.String("table", cfg.Table))
		return s, func() error { s.Close(); return nil }, nil
	case "sqlite":
		s, err := sqlitestore.Open(ctx, sqlitestore.Config{
			DSN:          cfg.DSN,
			Table:        cfg.Table,
			SourcesTable: cfg.SourcesTable,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("using sqlite article store", zap.String("table", cfg.Table))
		return s, s.Close, nil
	case "memory":
		logger.Warn("using in-memory article store; articles are lost on exit")
		return memorystorage.NewArticleStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown db driver: %s", cfg.Driver)
	}
}

// OpenObjectStore builds the media object store selected by storage.backend.
func OpenObjectStore(ctx context.Context, cfg config.StorageConfig, projectID string, logger *zap.Logger) (storage.ObjectStore, closeFunc, error) {
	noClose := func() error { return nil }
	switch cfg.Backend {
	case "s3":
		s, err := s3storage.New(s3storage.Config{
			Endpoint:     cfg.Endpoint,
			Bucket:       cfg.Bucket,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Region:       cfg.Region,
			UseSSL:       cfg.UseSSL,
			VerifySSL:    cfg.VerifySSL,
			CreateBucket: cfg.CreateBucket,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 store: %w", err)
		}
		logger.Info("using s3 object store", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
		return s, noClose, nil
	case "gcs":
		s, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket:          cfg.Bucket,
			ProjectID:       projectID,
			CredentialsFile: cfg.GCSCredentialsFile,
			CreateBucket:    cfg.CreateBucket,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs store: %w", err)
		}
		logger.Info("using gcs object store", zap.String("bucket", cfg.Bucket))
		return s, s.Close, nil
	case "memory":
		logger.Warn("using in-memory object store; images are lost on exit")
		return memorystorage.NewBlobStore(cfg.Bucket), noClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// OpenPublisher builds the article event publisher. A nil publisher disables events.
func OpenPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (ingest.Publisher, closeFunc, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, func() error { return nil }, nil
	case "memory":
		return memorypublisher.New(), func() error { return nil }, nil
	case "pubsub":
		p, err := gcppublisher.Open(ctx, cfg.ProjectID, cfg.Topic)
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		logger.Info("publishing article events to pubsub", zap.String("topic", cfg.Topic))
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown events provider: %s", cfg.Provider)
	}
}

// LoadClassifier builds the category classifier from the embedded table or categories.file.
func LoadClassifier(cfg config.CategoriesConfig, logger *zap.Logger) (*classify.Classifier, error) {
	if cfg.File == "" {
		tables, err := classify.DefaultTables()
		if err != nil {
			return nil, fmt.Errorf("load embedded category tables: %w", err)
		}
		return classify.New(tables, logger), nil
	}
	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("open category tables: %w", err)
	}
	defer f.Close()
	tables, err := classify.LoadTables(f)
	if err != nil {
		return nil, fmt.Errorf("load category tables %s: %w", cfg.File, err)
	}
	return classify.New(tables, logger), nil
}

func limiterSettings(rl config.RateLimitConfig) ratelimit.Settings {
	return ratelimit.Settings{
		MaxRequestsPerWindow: rl.MaxRequestsPerMinute,
		Window:               time.Minute,
		MinDelay:             rl.DelayBetweenRequests,
	}
}

// NewLimiter builds the shared limiter with per-source overrides.
func NewLimiter(cfg config.Config, logger *zap.Logger) *ratelimit.Limiter {
	opts := []ratelimit.Option{ratelimit.WithLogger(logger)}
	for _, src := range cfg.Sources {
		if src.RateLimit != nil {
			opts = append(opts, ratelimit.WithSourceSettings(src.Name, limiterSettings(*src.RateLimit)))
		}
	}
	return ratelimit.New(limiterSettings(cfg.RateLimit), opts...)
}

func credentialsFor(auth config.AuthConfig) fetcher.CredentialProvider {
	if auth.Type != "bearer" {
		return nil
	}
	if auth.TokenEnv != "" {
		return fetcher.EnvBearer{Variable: auth.TokenEnv}
	}
	return fetcher.StaticBearer{Token: auth.Token}
}

func headersFor(src config.SourceConfig) http.Header {
	if len(src.Headers) == 0 {
		return nil
	}
	h := http.Header{}
	for k, v := range src.Headers {
		h.Set(k, v)
	}
	return h
}

// sourcePlan is the discovery and extraction wiring for one source kind.
type sourcePlan struct {
	discoverURL   string
	discoverClass ratelimit.Class
	detailClass   ratelimit.Class
	discoverer    extract.Discoverer
	extractor     extract.Extractor
}

func planFor(src config.SourceConfig) sourcePlan {
	selectors := extract.Selectors{
		Title:     src.Selectors.Title,
		Body:      src.Selectors.Body,
		Summary:   src.Selectors.Summary,
		Category:  src.Selectors.Category,
		Published: src.Selectors.Published,
		Image:     src.Selectors.Image,
	}
	var extractor extract.Extractor = extract.FeedExtractor{}
	if src.Selectors.HasSelectors() {
		extractor = extract.SelectorExtractor{Selectors: selectors}
	}

	switch src.Kind {
	case config.KindHTML:
		return sourcePlan{
			discoverURL:   src.ListingURL,
			discoverClass: ratelimit.ClassList,
			detailClass:   ratelimit.ClassDetail,
			discoverer:    extract.ListingDiscoverer{LinkSelector: src.LinkSelector},
			extractor:     extract.SelectorExtractor{Selectors: selectors},
		}
	case config.KindAPI:
		return sourcePlan{
			discoverURL:   src.FeedURL,
			discoverClass: ratelimit.ClassAPI,
			detailClass:   ratelimit.ClassArticle,
			discoverer:    extract.FeedDiscoverer{Source: src.Name, FollowLinks: src.Selectors.HasSelectors()},
			extractor:     extractor,
		}
	default:
		return sourcePlan{
			discoverURL:   src.FeedURL,
			discoverClass: ratelimit.ClassRSS,
			detailClass:   ratelimit.ClassArticle,
			discoverer:    extract.FeedDiscoverer{Source: src.Name, FollowLinks: src.Selectors.HasSelectors()},
			extractor:     extractor,
		}
	}
}
