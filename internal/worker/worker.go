// Package worker runs the poll loop for one news source.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/clock/system"
	"github.com/ghalehnoei/news-scraper/internal/extract"
	"github.com/ghalehnoei/news-scraper/internal/fetcher"
	"github.com/ghalehnoei/news-scraper/internal/ingest"
	"github.com/ghalehnoei/news-scraper/internal/logging"
	"github.com/ghalehnoei/news-scraper/internal/media"
	"github.com/ghalehnoei/news-scraper/internal/metrics"
	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
)

// DefaultInterval is used when Config.Interval is unset.
const DefaultInterval = 5 * time.Minute

// Fetcher is the source's rate-limited fetch executor.
type Fetcher interface {
	FetchResponse(ctx context.Context, rawURL string, class ratelimit.Class) (fetcher.Response, error)
}

// Ingester decides duplicate/insert for one candidate.
type Ingester interface {
	IngestFunc(ctx context.Context, source, rawURL string, extract ingest.ExtractFunc) ingest.Outcome
}

// Uploader copies an upstream image into the object store.
type Uploader interface {
	Upload(ctx context.Context, f media.Fetcher, source, imageURL string) (string, error)
}

// RunRecorder stores when a source last completed a cycle.
type RunRecorder interface {
	MarkRun(ctx context.Context, name string, at time.Time) error
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Config controls one source's poll loop.
type Config struct {
	Source        string
	DiscoverURL   string
	DiscoverClass ratelimit.Class
	// DetailClass is used for candidate pages that must be fetched.
	DetailClass ratelimit.Class
	Interval    time.Duration
	// MaxItems caps candidates per cycle; zero means no cap.
	MaxItems int
}

// Option customizes a Worker.
type Option func(*Worker)

// WithUploader enables image uploads.
func WithUploader(u Uploader) Option {
	return func(w *Worker) {
		w.uploader = u
	}
}

// WithRunRecorder records last_run_at after every cycle.
func WithRunRecorder(r RunRecorder) Option {
	return func(w *Worker) {
		w.runs = r
	}
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Worker) {
		w.logger = logging.OrNop(logger)
	}
}

// Worker polls one source and feeds its candidates to the coordinator.
type Worker struct {
	cfg        Config
	fetcher    Fetcher
	discoverer extract.Discoverer
	extractor  extract.Extractor
	ingester   Ingester
	uploader   Uploader
	runs       RunRecorder
	clock      Clock
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	cfg Config,
	f Fetcher,
	discoverer extract.Discoverer,
	extractor extract.Extractor,
	ingester Ingester,
	opts ...Option,
) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DiscoverClass == "" {
		cfg.DiscoverClass = ratelimit.ClassList
	}
	if cfg.DetailClass == "" {
		cfg.DetailClass = ratelimit.ClassDetail
	}
	w := &Worker{
		cfg:        cfg,
		fetcher:    f,
		discoverer: discoverer,
		extractor:  extractor,
		ingester:   ingester,
		clock:      system.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("source", cfg.Source))
	return w
}

// Name returns the source name.
func (w *Worker) Name() string {
	return w.cfg.Source
}

// Interval returns the poll interval.
func (w *Worker) Interval() time.Duration {
	return w.cfg.Interval
}

// Run polls immediately and then every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.logger.Info("source worker started", zap.Duration("interval", w.cfg.Interval))
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.RunCycle(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("source worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// CycleReport summarizes one poll.
type CycleReport struct {
	Source     string
	Candidates int
	Inserted   int
	Duplicate  int
	Failed     int
	// Skipped counts candidates left unprocessed because the cycle ended early.
	Skipped  int
	Aborted  bool
	Err      error
	Duration time.Duration
}

// RunCycle discovers candidates and ingests them one at a time.
func (w *Worker) RunCycle(ctx context.Context) CycleReport {
	start := w.clock.Now()
	report := CycleReport{Source: w.cfg.Source}
	defer func() {
		report.Duration = w.clock.Now().Sub(start)
		metrics.ObserveCycle(w.cfg.Source, report.Duration)
	}()

	if err := ctx.Err(); err != nil {
		report.Aborted = true
		report.Err = err
		return report
	}

	candidates, err := w.discover(ctx)
	if err != nil {
		report.Aborted = true
		report.Err = err
		w.logCycleError("discovery failed", err)
		w.markRun(ctx)
		return report
	}
	if w.cfg.MaxItems > 0 && len(candidates) > w.cfg.MaxItems {
		candidates = candidates[:w.cfg.MaxItems]
	}
	report.Candidates = len(candidates)

	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			report.Skipped = len(candidates) - i
			report.Aborted = true
			report.Err = err
			break
		}
		out := w.ingester.IngestFunc(ctx, w.cfg.Source, candidate.URL, w.extractFunc(candidate))
		switch out.Status {
		case ingest.StatusInserted:
			report.Inserted++
		case ingest.StatusDuplicate:
			report.Duplicate++
		default:
			report.Failed++
			w.logger.Warn("article skipped",
				zap.String("url", out.URL), zap.String("reason", out.Reason), zap.Error(out.Err))
		}
		if errors.Is(out.Err, fetcher.ErrAuthentication) {
			report.Skipped = len(candidates) - i - 1
			report.Aborted = true
			report.Err = out.Err
			w.logCycleError("authentication failed, aborting cycle", out.Err)
			break
		}
	}

	w.logger.Info("cycle complete",
		zap.Int("candidates", report.Candidates),
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicate", report.Duplicate),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", w.clock.Now().Sub(start)))
	w.markRun(ctx)
	return report
}

func (w *Worker) discover(ctx context.Context) ([]extract.Candidate, error) {
	resp, err := w.fetcher.FetchResponse(ctx, w.cfg.DiscoverURL, w.cfg.DiscoverClass)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", w.cfg.DiscoverClass, err)
	}
	base := resp.URL
	if base == "" {
		base = w.cfg.DiscoverURL
	}
	candidates, err := w.discoverer.Discover(ctx, base, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	return candidates, nil
}

// extractFunc runs only for URLs the store has not seen.
func (w *Worker) extractFunc(candidate extract.Candidate) ingest.ExtractFunc {
	return func(ctx context.Context) (ingest.Content, error) {
		page := extract.Page{URL: candidate.URL, Candidate: candidate}
		if candidate.DetailURL != "" {
			resp, err := w.fetcher.FetchResponse(ctx, candidate.DetailURL, w.cfg.DetailClass)
			if err != nil {
				return ingest.Content{}, err
			}
			page.URL = candidate.DetailURL
			if resp.URL != "" {
				page.URL = resp.URL
			}
			page.Body = resp.Body
		}
		content, err := w.extractor.Extract(page)
		if err != nil {
			return ingest.Content{}, err
		}
		content.MediaRef = w.uploadMedia(ctx, content.MediaRef)
		return content, nil
	}
}

// uploadMedia returns the storage key, or ref unchanged when the upload fails.
func (w *Worker) uploadMedia(ctx context.Context, ref string) string {
	if w.uploader == nil || !isRemote(ref) {
		return ref
	}
	key, err := w.uploader.Upload(ctx, w.fetcher, w.cfg.Source, ref)
	if err != nil {
		w.logger.Warn("media fallback", zap.String("media_ref", ref), zap.Error(err))
		return ref
	}
	return key
}

func (w *Worker) markRun(ctx context.Context) {
	if w.runs == nil {
		return
	}
	if err := w.runs.MarkRun(context.WithoutCancel(ctx), w.cfg.Source, w.clock.Now()); err != nil {
		w.logger.Warn("record last run", zap.Error(err))
	}
}

func (w *Worker) logCycleError(msg string, err error) {
	if errors.Is(err, fetcher.ErrAuthentication) {
		w.logger.Error(msg, zap.Error(err))
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, fetcher.ErrCanceled) {
		w.logger.Debug(msg, zap.Error(err))
		return
	}
	w.logger.Warn(msg, zap.Error(err))
}

func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
