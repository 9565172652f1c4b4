// Package memory contains an in-memory event publisher for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/ghalehnoei/news-scraper/internal/ingest"
)

// Publisher records published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []ingest.ArticleIngested
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// PublishArticle records the event.
func (p *Publisher) PublishArticle(_ context.Context, event ingest.ArticleIngested) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []ingest.ArticleIngested {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ingest.ArticleIngested, len(p.events))
	copy(out, p.events)
	return out
}
