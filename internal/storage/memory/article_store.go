package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ghalehnoei/news-scraper/internal/ingest"
)

// ArticleStore provides an in-memory ArticleStore and SourceRegistry for
// development and tests. The URL map plays the role of the unique constraint.
type ArticleStore struct {
	mu       sync.RWMutex
	articles map[string]ingest.Article
	sources  map[string]ingest.SourceState
}

// NewArticleStore constructs an empty ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		articles: make(map[string]ingest.Article),
		sources:  make(map[string]ingest.SourceState),
	}
}

// ExistsURL reports whether an article with exactly url exists.
func (s *ArticleStore) ExistsURL(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.articles[url]
	return ok, nil
}

// ExistsURLPrefix reports whether any stored URL starts with prefix.
func (s *ArticleStore) ExistsURLPrefix(_ context.Context, prefix string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for url := range s.articles {
		if strings.HasPrefix(url, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// Insert stores article unless its URL is taken.
func (s *ArticleStore) Insert(_ context.Context, article ingest.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.articles[article.URL]; exists {
		return ingest.ErrDuplicate
	}
	s.articles[article.URL] = article
	return nil
}

// Get returns the article stored under url.
func (s *ArticleStore) Get(_ context.Context, url string) (ingest.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[url]
	if !ok {
		return ingest.Article{}, ingest.ErrNotFound
	}
	return article, nil
}

// Articles returns all stored articles ordered by URL.
func (s *ArticleStore) Articles() []ingest.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Article, 0, len(s.articles))
	for _, article := range s.articles {
		out = append(out, article)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// EnsureSources inserts unknown sources; existing rows keep their operator-set state.
func (s *ArticleStore) EnsureSources(_ context.Context, sources []ingest.SourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		if _, ok := s.sources[src.Name]; ok {
			continue
		}
		s.sources[src.Name] = src
	}
	return nil
}

// ListSources returns registry rows ordered by name.
func (s *ArticleStore) ListSources(_ context.Context) ([]ingest.SourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.SourceState, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetEnabled flips the operator flag of a source.
func (s *ArticleStore) SetEnabled(_ context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		return ingest.ErrNotFound
	}
	src.Enabled = enabled
	s.sources[name] = src
	return nil
}

// MarkRun records the completion time of a poll cycle.
func (s *ArticleStore) MarkRun(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		return ingest.ErrNotFound
	}
	at = at.UTC()
	src.LastRunAt = &at
	s.sources[name] = src
	return nil
}

// Ping always succeeds.
func (s *ArticleStore) Ping(context.Context) error {
	return nil
}
