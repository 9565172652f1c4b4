// Package server builds the ingestion service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/api"
	"github.com/ghalehnoei/news-scraper/internal/classify"
	"github.com/ghalehnoei/news-scraper/internal/clock/system"
	"github.com/ghalehnoei/news-scraper/internal/config"
	"github.com/ghalehnoei/news-scraper/internal/dispatcher"
	"github.com/ghalehnoei/news-scraper/internal/fetcher"
	collyfetcher "github.com/ghalehnoei/news-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/ghalehnoei/news-scraper/internal/fetcher/headless"
	"github.com/ghalehnoei/news-scraper/internal/hash/sha256"
	"github.com/ghalehnoei/news-scraper/internal/id/uuid"
	"github.com/ghalehnoei/news-scraper/internal/ingest"
	"github.com/ghalehnoei/news-scraper/internal/logging"
	"github.com/ghalehnoei/news-scraper/internal/media"
	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
	"github.com/ghalehnoei/news-scraper/internal/telemetry"
	"github.com/ghalehnoei/news-scraper/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      Store
	resolver   *media.Resolver
	classifier *classify.Classifier
	limiter    *ratelimit.Limiter
	workers    []*worker.Worker
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server

	closers        []namedCloser
	tracerShutdown func(context.Context) error
	closeOnce      sync.Once
}

type namedCloser struct {
	name string
	fn   closeFunc
}

// Build creates the application's dependencies. Configuration problems are
// returned as errors; an unreachable object store is only logged because
// media failures never block article ingestion.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	logger = logging.OrNop(logger)
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	store, closeStore, err := OpenStore(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, namedCloser{"article store", closeStore})

	objects, closeObjects, err := OpenObjectStore(ctx, cfg.Storage, cfg.Telemetry.ProjectID, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, namedCloser{"object store", closeObjects})
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Error("object store health check failed; uploads will fall back to upstream urls",
			zap.String("bucket", cfg.Storage.Bucket), zap.Error(err))
	}

	publisher, closePublisher, err := OpenPublisher(ctx, cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, namedCloser{"publisher", closePublisher})

	a.classifier, err = LoadClassifier(cfg.Categories, logger)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	a.resolver = media.NewResolver(objects, media.ResolverConfig{
		Endpoint:   cfg.Storage.Endpoint,
		Bucket:     cfg.Storage.Bucket,
		PresignTTL: cfg.Storage.PresignTTL,
	}, logger)
	uploader := media.NewUploader(objects, sha256.New(sha256.KeyDigestLen), clock, media.UploaderConfig{KeyPrefix: cfg.Storage.KeyPrefix}, logger)
	a.limiter = NewLimiter(cfg, logger)

	coordOpts := []ingest.Option{
		ingest.WithIDGenerator(uuid.NewUUIDGenerator()),
		ingest.WithClock(clock),
		ingest.WithLogger(logger),
		ingest.WithPersistTimeout(cfg.DB.PersistTimeout),
		ingest.WithPrefixMatch(cfg.DB.PrefixDedupe),
	}
	if publisher != nil {
		coordOpts = append(coordOpts, ingest.WithPublisher(publisher))
	}
	coordinator := ingest.NewCoordinator(store, a.resolver, a.classifier, coordOpts...)

	if err := a.buildWorkers(ctx, coordinator, uploader); err != nil {
		return nil, err
	}

	runners := make([]dispatcher.Runner, 0, len(a.workers))
	for _, w := range a.workers {
		runners = append(runners, w)
	}
	a.dispatch = dispatcher.New(runners, store, logger)
	a.apiServer = api.NewServer(api.Deps{
		Sources:    a.sourceInfos(),
		Registry:   store,
		Pinger:     store,
		Media:      a.resolver,
		Classifier: a.classifier,
		Limiter:    a.limiter,
	}, cfg.Server.APIKey, logger)

	logger.Info("application built",
		zap.Int("sources", len(cfg.Sources)),
		zap.Int("workers", len(a.workers)),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("storage_backend", cfg.Storage.Backend))
	return a, nil
}

func (a *App) buildWorkers(ctx context.Context, coordinator *ingest.Coordinator, uploader *media.Uploader) error {
	httpDoer := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.HTTP.UserAgent,
		ConnectTimeout: a.cfg.HTTP.ConnectTimeout,
		Timeout:        a.cfg.HTTP.Timeout,
		MaxBodySize:    a.cfg.HTTP.MaxBodyBytes,
	})
	var renderer *headlessfetcher.Renderer

	states := make([]ingest.SourceState, 0, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		interval := a.cfg.SourceInterval(src)
		states = append(states, ingest.SourceState{
			Name:            src.Name,
			IntervalMinutes: int(interval / time.Minute),
			Enabled:         src.IsEnabled(),
		})
		if !src.IsEnabled() {
			a.logger.Info("source disabled in config", zap.String("source", src.Name))
			continue
		}

		var doer fetcher.Doer = httpDoer
		if src.Headless || src.HeadlessAuto {
			if renderer == nil {
				r, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
					MaxParallel:       a.cfg.Headless.MaxParallel,
					UserAgent:         a.cfg.HTTP.UserAgent,
					NavigationTimeout: a.cfg.Headless.NavigationTimeout,
				})
				if err != nil {
					return fmt.Errorf("init headless renderer: %w", err)
				}
				renderer = r
				a.closers = append(a.closers, namedCloser{"headless renderer", func() error { r.Close(); return nil }})
			}
			if src.Headless {
				doer = renderer
			} else {
				doer = headlessfetcher.NewPromoting(httpDoer, renderer, a.cfg.Headless.PromoteThreshold,
					a.logger.With(zap.String("source", src.Name)))
			}
		}

		fetchOpts := []fetcher.Option{fetcher.WithLogger(a.logger)}
		if creds := credentialsFor(src.Auth); creds != nil {
			fetchOpts = append(fetchOpts, fetcher.WithCredentials(creds))
		}
		executor := fetcher.New(src.Name, doer, a.limiter, fetcher.Config{
			MaxRetries:            a.cfg.HTTP.MaxRetries,
			Headers:               headersFor(src),
			RetryAfterCap:         a.cfg.HTTP.RetryAfterCap,
			RateLimitBackoffCap:   a.cfg.HTTP.RateLimitBackoffCap,
			ServerErrorBackoffCap: a.cfg.HTTP.ServerErrorBackoffCap,
		}, fetchOpts...)

		maxItems := src.MaxItems
		if maxItems == 0 {
			maxItems = a.cfg.Worker.MaxItems
		}
		plan := planFor(src)
		a.workers = append(a.workers, worker.New(worker.Config{
			Source:        src.Name,
			DiscoverURL:   plan.discoverURL,
			DiscoverClass: plan.discoverClass,
			DetailClass:   plan.detailClass,
			Interval:      interval,
			MaxItems:      maxItems,
		}, executor, plan.discoverer, plan.extractor, coordinator,
			worker.WithUploader(uploader),
			worker.WithRunRecorder(a.store),
			worker.WithLogger(a.logger),
		))
	}

	if err := a.store.EnsureSources(ctx, states); err != nil {
		return fmt.Errorf("register sources: %w", err)
	}
	return nil
}

func (a *App) sourceInfos() []api.SourceInfo {
	out := make([]api.SourceInfo, 0, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		out = append(out, api.SourceInfo{
			Name:     src.Name,
			Kind:     src.Kind,
			URL:      planFor(src).discoverURL,
			Interval: a.cfg.SourceInterval(src),
			Headless: src.Headless,
		})
	}
	return out
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Workers returns the source workers that will be dispatched.
func (a *App) Workers() []*worker.Worker {
	return a.workers
}

// Run starts every source worker and the ops server and blocks until ctx is
// canceled or SIGINT/SIGTERM arrives. In-flight article writes finish before
// Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(ctx)
	}()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	if srv != nil {
		serverCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(serverCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		cancel()
	}

	if !waitFor(dispatchDone, a.drainTimeout()) {
		a.logger.Warn("workers did not stop before the drain timeout",
			zap.Duration("drain_timeout", a.drainTimeout()))
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Close(closeCtx)
}

// drainTimeout bounds the wait for workers. It never undercuts
// db.persist_timeout so a write started just before shutdown can commit
// before the store closes.
func (a *App) drainTimeout() time.Duration {
	return max(a.cfg.Server.ShutdownTimeout, a.cfg.DB.PersistTimeout)
}

func waitFor(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Close releases every resource Build acquired. It is safe to call twice.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeResources()
		if a.tracerShutdown != nil {
			if err := a.tracerShutdown(ctx); err != nil {
				a.logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}
		a.logger.Info("shutdown complete")
	})
	return nil
}

func (a *App) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
