// Package postgres provides the Postgres-backed article store and source registry.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ghalehnoei/news-scraper/internal/ingest"
)

const uniqueViolation = "23505"

//go:embed schema.sql
var schemaTemplate string

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	Table           string
	SourcesTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ArticleStore implements ingest.ArticleStore and ingest.SourceRegistry.
type ArticleStore struct {
	pool    pool
	table   string
	sources string
}

// New opens a pgxpool from cfg.
func New(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, cfg.SourcesTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool builds a store over an existing pool (primarily for testing).
func NewWithPool(p pool, table, sourcesTable string) (*ArticleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "news"
	}
	if sourcesTable == "" {
		sourcesTable = "news_sources"
	}
	for _, name := range []string{table, sourcesTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &ArticleStore{pool: p, table: table, sources: sourcesTable}, nil
}

// Close releases the pool.
func (s *ArticleStore) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Schema renders the DDL for the configured table names.
func (s *ArticleStore) Schema() string {
	return strings.NewReplacer("{{table}}", s.table, "{{sources_table}}", s.sources).Replace(schemaTemplate)
}

// Migrate applies the embedded schema. It is idempotent.
func (s *ArticleStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.Schema()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ExistsURL reports whether a row with exactly url exists.
func (s *ArticleStore) ExistsURL(ctx context.Context, url string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("query url: %w", err)
	}
	return exists, nil
}

// ExistsURLPrefix reports whether any stored url starts with prefix.
func (s *ArticleStore) ExistsURLPrefix(ctx context.Context, prefix string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url LIKE $1 || '%%' ESCAPE '\')`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, EscapeLike(prefix)).Scan(&exists); err != nil {
		return false, fmt.Errorf("query url prefix: %w", err)
	}
	return exists, nil
}

// EscapeLike escapes LIKE metacharacters with a backslash.
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Insert writes article in its own transaction.
func (s *ArticleStore) Insert(ctx context.Context, article ingest.Article) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, source, title, body_html, summary, url,
	published_at, created_at, image_url, category, raw_category
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, s.table)

	args := []any{
		article.ID,
		article.Source,
		article.Title,
		article.BodyHTML,
		article.Summary,
		article.URL,
		nullable(article.PublishedAt),
		article.CreatedAt,
		nullable(article.ImageKey),
		nullable(string(article.Category)),
		nullable(article.RawCategory),
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		_ = tx.Rollback(ctx)
		return mapInsertError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapInsertError(err)
	}
	return nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ingest.ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("insert article: %w", err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// EnsureSources inserts missing registry rows without touching existing ones.
func (s *ArticleStore) EnsureSources(ctx context.Context, sources []ingest.SourceState) error {
	if len(sources) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ensure sources: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, interval_minutes, enabled)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO NOTHING`, s.sources)
	for _, src := range sources {
		if _, err := tx.Exec(ctx, query, src.Name, src.IntervalMinutes, src.Enabled); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("ensure source %s: %w", src.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ensure sources: %w", err)
	}
	return nil
}

// ListSources returns registry rows ordered by name.
func (s *ArticleStore) ListSources(ctx context.Context) ([]ingest.SourceState, error) {
	query := fmt.Sprintf(`SELECT name, interval_minutes, enabled, last_run_at FROM %s ORDER BY name`, s.sources)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []ingest.SourceState
	for rows.Next() {
		var (
			src     ingest.SourceState
			lastRun *time.Time
		)
		if err := rows.Scan(&src.Name, &src.IntervalMinutes, &src.Enabled, &lastRun); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.LastRunAt = lastRun
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// MarkRun records the completion time of a poll cycle.
func (s *ArticleStore) MarkRun(ctx context.Context, name string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_run_at = $2 WHERE name = $1`, s.sources)
	return s.updateSource(ctx, query, name, at.UTC())
}

// SetEnabled flips the operator flag of a source.
func (s *ArticleStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	query := fmt.Sprintf(`UPDATE %s SET enabled = $2 WHERE name = $1`, s.sources)
	return s.updateSource(ctx, query, name, enabled)
}

func (s *ArticleStore) updateSource(ctx context.Context, query, name string, value any) error {
	tag, err := s.pool.Exec(ctx, query, name, value)
	if err != nil {
		return fmt.Errorf("update source %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", name, ingest.ErrNotFound)
	}
	return nil
}
