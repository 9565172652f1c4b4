// Package ratelimit paces outbound requests per (source, request class) with a
// sliding-window quota and a minimum delay between consecutive requests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ghalehnoei/news-scraper/internal/clock/system"
	"github.com/ghalehnoei/news-scraper/internal/metrics"
)

// Class partitions a source's request budget by traffic type.
type Class string

// Request classes used by the source workers.
const (
	ClassArticle Class = "article"
	ClassImage   Class = "image"
	ClassAPI     Class = "api"
	ClassRSS     Class = "rss"
	ClassList    Class = "list"
	ClassDetail  Class = "detail"
)

// DefaultWindow is the length of the sliding quota window.
const DefaultWindow = time.Minute

// Settings is the budget applied to every class of one source.
type Settings struct {
	MaxRequestsPerWindow int
	Window               time.Duration
	MinDelay             time.Duration
}

func (s Settings) normalized() Settings {
	if s.Window <= 0 {
		s.Window = DefaultWindow
	}
	if s.MaxRequestsPerWindow <= 0 {
		s.MaxRequestsPerWindow = 60
	}
	if s.MinDelay < 0 {
		s.MinDelay = 0
	}
	return s
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Limiter.
type Option func(*Limiter)

// WithSourceSettings overrides the budget for one source.
func WithSourceSettings(source string, s Settings) Option {
	return func(l *Limiter) {
		l.overrides[source] = s.normalized()
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithSleeper replaces the timer-based sleep.
func WithSleeper(fn SleepFunc) Option {
	return func(l *Limiter) {
		l.sleep = fn
	}
}

// WithLogger attaches a logger for wait diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Limiter manages one bucket per (source, class).
type Limiter struct {
	mu        sync.Mutex
	buckets   map[bucketKey]*bucket
	defaults  Settings
	overrides map[string]Settings
	clock     Clock
	sleep     SleepFunc
	logger    *zap.Logger
}

type bucketKey struct {
	source string
	class  Class
}

// bucket serializes callers on turn and guards its timestamps with state.
type bucket struct {
	turn     sync.Mutex
	state    sync.Mutex
	settings Settings
	stamps   []time.Time
	last     time.Time
	pacer    *rate.Limiter
}

// New creates a Limiter applying defaults to every source without an override.
func New(defaults Settings, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:   make(map[bucketKey]*bucket),
		defaults:  defaults.normalized(),
		overrides: make(map[string]Settings),
		clock:     system.New(),
		sleep:     system.Sleep,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SettingsFor returns the effective budget for source.
func (l *Limiter) SettingsFor(source string) Settings {
	if s, ok := l.overrides[source]; ok {
		return s
	}
	return l.defaults
}

func (l *Limiter) bucket(source string, class Class) *bucket {
	key := bucketKey{source: source, class: class}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		settings := l.SettingsFor(source)
		pace := rate.Inf
		if settings.MinDelay > 0 {
			pace = rate.Every(settings.MinDelay)
		}
		b = &bucket{settings: settings, pacer: rate.NewLimiter(pace, 1)}
		l.buckets[key] = b
	}
	return b
}

// Acquire blocks until a request for (source, class) may be issued and records it.
// It only fails when ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context, source string, class Class) error {
	b := l.bucket(source, class)
	b.turn.Lock()
	defer b.turn.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	start := l.clock.Now()
	now := start
	for {
		oldest, full := b.windowFull(now)
		if !full {
			break
		}
		wait := oldest.Add(b.settings.Window).Sub(now)
		l.logger.Debug("request quota reached",
			zap.String("source", source),
			zap.String("request_class", string(class)),
			zap.Duration("wait", wait),
		)
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		now = l.clock.Now()
	}

	r := b.pacer.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		if err := l.sleep(ctx, delay); err != nil {
			r.CancelAt(now)
			return fmt.Errorf("rate limit wait: %w", err)
		}
		now = l.clock.Now()
	}

	b.record(now)
	if waited := now.Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(source, string(class), waited)
	}
	return nil
}

// windowFull prunes expired stamps and reports whether the quota is used up,
// returning the oldest stamp still inside the window.
func (b *bucket) windowFull(now time.Time) (time.Time, bool) {
	b.state.Lock()
	defer b.state.Unlock()
	b.pruneLocked(now)
	if len(b.stamps) < b.settings.MaxRequestsPerWindow {
		return time.Time{}, false
	}
	return b.stamps[0], true
}

func (b *bucket) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(b.stamps) && now.Sub(b.stamps[cut]) >= b.settings.Window {
		cut++
	}
	if cut > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[cut:]...)
	}
}

func (b *bucket) record(now time.Time) {
	b.state.Lock()
	defer b.state.Unlock()
	b.stamps = append(b.stamps, now)
	b.last = now
}

// ClassStats is the window occupancy of one request class.
type ClassStats struct {
	InWindow      int       `json:"in_window"`
	LastRequestAt time.Time `json:"last_request_at"`
}

// Stats describes a source's current budget usage.
type Stats struct {
	Source               string               `json:"source"`
	MaxRequestsPerWindow int                  `json:"max_requests_per_window"`
	Window               time.Duration        `json:"window"`
	MinDelay             time.Duration        `json:"min_delay"`
	Classes              map[Class]ClassStats `json:"classes"`
}

// Stats reports window occupancy for every class seen for source.
// It never waits on callers blocked inside Acquire.
func (l *Limiter) Stats(source string) Stats {
	settings := l.SettingsFor(source)
	out := Stats{
		Source:               source,
		MaxRequestsPerWindow: settings.MaxRequestsPerWindow,
		Window:               settings.Window,
		MinDelay:             settings.MinDelay,
		Classes:              make(map[Class]ClassStats),
	}

	l.mu.Lock()
	var found []bucketKey
	for key := range l.buckets {
		if key.source == source {
			found = append(found, key)
		}
	}
	buckets := make([]*bucket, len(found))
	for i, key := range found {
		buckets[i] = l.buckets[key]
	}
	l.mu.Unlock()

	now := l.clock.Now()
	for i, b := range buckets {
		b.state.Lock()
		b.pruneLocked(now)
		out.Classes[found[i].class] = ClassStats{InWindow: len(b.stamps), LastRequestAt: b.last}
		b.state.Unlock()
	}
	return out
}
