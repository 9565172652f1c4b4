// Package dispatcher runs one poll loop per enabled source.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/ingest"
	"github.com/ghalehnoei/news-scraper/internal/logging"
)

// Runner is a source poll loop.
type Runner interface {
	Name() string
	Run(ctx context.Context)
}

// Registry reports operator-controlled source state.
type Registry interface {
	ListSources(ctx context.Context) ([]ingest.SourceState, error)
}

// Dispatcher fans sources out to their own goroutines.
type Dispatcher struct {
	runners  []Runner
	registry Registry
	logger   *zap.Logger
}

// New creates a Dispatcher. registry may be nil, in which case every runner starts.
func New(runners []Runner, registry Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		runners:  runners,
		registry: registry,
		logger:   logging.OrNop(logger),
	}
}

// Enabled returns the runners the registry has not disabled.
func (d *Dispatcher) Enabled(ctx context.Context) []Runner {
	if d.registry == nil {
		return d.runners
	}
	states, err := d.registry.ListSources(ctx)
	if err != nil {
		d.logger.Warn("list sources failed, starting all configured sources", zap.Error(err))
		return d.runners
	}
	disabled := make(map[string]bool, len(states))
	for _, s := range states {
		if !s.Enabled {
			disabled[s.Name] = true
		}
	}
	out := make([]Runner, 0, len(d.runners))
	for _, r := range d.runners {
		if disabled[r.Name()] {
			d.logger.Info("source disabled in registry", zap.String("source", r.Name()))
			continue
		}
		out = append(out, r)
	}
	return out
}

// Run starts all enabled runners and blocks until the context finishes and
// every runner has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	runners := d.Enabled(ctx)
	d.logger.Info("dispatching sources", zap.Int("sources", len(runners)))

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}
