package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/classify"
	"github.com/ghalehnoei/news-scraper/internal/ingest"
	"github.com/ghalehnoei/news-scraper/internal/logging"
	"github.com/ghalehnoei/news-scraper/internal/metrics"
	"github.com/ghalehnoei/news-scraper/internal/policy/ratelimit"
)

const (
	readyTimeout  = 2 * time.Second
	handleTimeout = 10 * time.Second
)

// Registry is the source table.
type Registry interface {
	ListSources(ctx context.Context) ([]ingest.SourceState, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MediaReader turns stored references into fetchable URLs.
type MediaReader interface {
	ReadURL(ctx context.Context, ref string) (string, error)
	ToStorageKey(ref string) (string, error)
}

// Classifier previews category normalization.
type Classifier interface {
	Preview(source, raw string) (classify.Category, string)
}

// LimiterStats exposes per-source rate limit state.
type LimiterStats interface {
	Stats(source string) ratelimit.Stats
}

// SourceInfo is the static configuration of one source.
type SourceInfo struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	URL      string        `json:"url"`
	Interval time.Duration `json:"interval"`
	Headless bool          `json:"headless"`
}

// Deps are the collaborators the handlers read from. Nil members disable
// the routes that need them.
type Deps struct {
	Sources    []SourceInfo
	Registry   Registry
	Pinger     Pinger
	Media      MediaReader
	Classifier Classifier
	Limiter    LimiterStats
}

// Server wires HTTP handlers to the ingestion components.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. An empty apiKey
// leaves /v1 open.
func NewServer(deps Deps, apiKey string, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if apiKey != "" {
			r.Use(apiKeyMiddleware(apiKey))
		}
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/{name}/enable", s.setEnabled(true))
			r.Post("/{name}/disable", s.setEnabled(false))
		})
		r.Get("/media", s.media)
		r.Get("/classify", s.classify)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.Pinger.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sourceView struct {
	SourceInfo
	Enabled   bool             `json:"enabled"`
	LastRunAt *time.Time       `json:"last_run_at,omitempty"`
	RateLimit *ratelimit.Stats `json:"rate_limit,omitempty"`
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	states := map[string]ingest.SourceState{}
	if s.deps.Registry != nil {
		ctx, cancel := context.WithTimeout(r.Context(), handleTimeout)
		defer cancel()
		list, err := s.deps.Registry.ListSources(ctx)
		if err != nil {
			s.logger.Error("list sources", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list sources")
			return
		}
		for _, st := range list {
			states[st.Name] = st
		}
	}

	out := make([]sourceView, 0, len(s.deps.Sources))
	for _, info := range s.deps.Sources {
		view := sourceView{SourceInfo: info, Enabled: true}
		if st, ok := states[info.Name]; ok {
			view.Enabled = st.Enabled
			view.LastRunAt = st.LastRunAt
		}
		if s.deps.Limiter != nil {
			stats := s.deps.Limiter.Stats(info.Name)
			view.RateLimit = &stats
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Registry == nil {
			writeError(w, http.StatusServiceUnavailable, "source registry unavailable")
			return
		}
		name := chi.URLParam(r, "name")
		ctx, cancel := context.WithTimeout(r.Context(), handleTimeout)
		defer cancel()
		if err := s.deps.Registry.SetEnabled(ctx, name, enabled); err != nil {
			if errors.Is(err, ingest.ErrNotFound) {
				writeError(w, http.StatusNotFound, "source not found")
				return
			}
			s.logger.Error("update source", zap.String("source", name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update source")
			return
		}
		s.logger.Info("source updated", zap.String("source", name), zap.Bool("enabled", enabled))
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
	}
}

type mediaResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key,omitempty"`
	Presigned bool   `json:"presigned"`
	Fallback  bool   `json:"fallback,omitempty"`
	Error     string `json:"error,omitempty"`
}

// media never fails on presign errors; it hands back the original reference.
func (s *Server) media(w http.ResponseWriter, r *http.Request) {
	if s.deps.Media == nil {
		writeError(w, http.StatusServiceUnavailable, "object store unavailable")
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handleTimeout)
	defer cancel()

	resp := mediaResponse{}
	if key, err := s.deps.Media.ToStorageKey(ref); err == nil {
		resp.Key = key
	}
	readURL, err := s.deps.Media.ReadURL(ctx, ref)
	resp.URL = readURL
	if err != nil {
		resp.Fallback = true
		resp.Error = err.Error()
	} else {
		resp.Presigned = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	if s.deps.Classifier == nil {
		writeError(w, http.StatusServiceUnavailable, "classifier unavailable")
		return
	}
	q := r.URL.Query()
	category, raw := s.deps.Classifier.Preview(q.Get("source"), q.Get("raw"))
	writeJSON(w, http.StatusOK, map[string]string{
		"source":       q.Get("source"),
		"raw_category": raw,
		"category":     string(category),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
