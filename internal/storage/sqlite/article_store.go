// Package sqlite provides an embedded article store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ghalehnoei/news-scraper/internal/classify"
	"github.com/ghalehnoei/news-scraper/internal/ingest"
)

//go:embed schema.sql
var schemaTemplate string

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects the database file and table names.
type Config struct {
	DSN          string
	Table        string
	SourcesTable string
}

// ArticleStore implements ingest.ArticleStore and ingest.SourceRegistry on SQLite.
type ArticleStore struct {
	db      *sql.DB
	table   string
	sources string
}

// Open opens the database and applies the schema. ":memory:" keeps a single
// connection so every caller sees the same database.
func Open(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, sources := cfg.Table, cfg.SourcesTable
	if table == "" {
		table = "news"
	}
	if sources == "" {
		sources = "news_sources"
	}
	for _, name := range []string{table, sources} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}

	db, err := sql.Open("sqlite", withPragmas(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection turns lock contention into queueing.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &ArticleStore{db: db, table: table, sources: sources}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func withPragmas(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database.
func (s *ArticleStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema.
func (s *ArticleStore) Migrate(ctx context.Context) error {
	schema := strings.NewReplacer("{{table}}", s.table, "{{sources_table}}", s.sources).Replace(schemaTemplate)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ExistsURL reports whether a row with exactly url exists.
func (s *ArticleStore) ExistsURL(ctx context.Context, url string) (bool, error) {
	return s.exists(ctx, sq.Eq{"url": url})
}

// ExistsURLPrefix reports whether any stored url starts with prefix. The
// comparison is exact, unlike SQLite's case-insensitive LIKE.
func (s *ArticleStore) ExistsURLPrefix(ctx context.Context, prefix string) (bool, error) {
	return s.exists(ctx, sq.Expr("substr(url, 1, length(?)) = ?", prefix, prefix))
}

func (s *ArticleStore) exists(ctx context.Context, pred sq.Sqlizer) (bool, error) {
	var one int
	err := sq.Select("1").From(s.table).Where(pred).Limit(1).
		RunWith(s.db).QueryRowContext(ctx).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query url: %w", err)
	default:
		return true, nil
	}
}

// Insert writes article in its own transaction.
func (s *ArticleStore) Insert(ctx context.Context, article ingest.Article) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	_, err = sq.Insert(s.table).
		Columns("id", "source", "title", "body_html", "summary", "url",
			"published_at", "created_at", "image_url", "category", "raw_category").
		Values(article.ID, article.Source, article.Title, article.BodyHTML, article.Summary, article.URL,
			nullable(article.PublishedAt), formatTime(article.CreatedAt), nullable(article.ImageKey),
			nullable(string(article.Category)), nullable(article.RawCategory)).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		_ = tx.Rollback()
		return mapInsertError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapInsertError(err)
	}
	return nil
}

func mapInsertError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "UNIQUE")) {
			return fmt.Errorf("%w: %v", ingest.ErrDuplicate, err)
		}
	}
	return fmt.Errorf("insert article: %w", err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Get loads one article by canonical URL.
func (s *ArticleStore) Get(ctx context.Context, url string) (ingest.Article, error) {
	var (
		a                                   ingest.Article
		body, summary, published, image     sql.NullString
		category, rawCategory, createdAtRaw sql.NullString
	)
	err := sq.Select("id", "source", "title", "body_html", "summary", "url",
		"published_at", "created_at", "image_url", "category", "raw_category").
		From(s.table).Where(sq.Eq{"url": url}).
		RunWith(s.db).QueryRowContext(ctx).
		Scan(&a.ID, &a.Source, &a.Title, &body, &summary, &a.URL,
			&published, &createdAtRaw, &image, &category, &rawCategory)
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.Article{}, ingest.ErrNotFound
	}
	if err != nil {
		return ingest.Article{}, fmt.Errorf("get article: %w", err)
	}
	a.BodyHTML, a.Summary, a.PublishedAt = body.String, summary.String, published.String
	a.ImageKey, a.RawCategory = image.String, rawCategory.String
	a.Category = classify.Category(category.String)
	if createdAtRaw.Valid {
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtRaw.String); err != nil {
			return ingest.Article{}, fmt.Errorf("parse created_at: %w", err)
		}
	}
	return a, nil
}

// Count returns the number of stored articles.
func (s *ArticleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := sq.Select("COUNT(*)").From(s.table).RunWith(s.db).QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// EnsureSources inserts missing registry rows without touching existing ones.
func (s *ArticleStore) EnsureSources(ctx context.Context, sources []ingest.SourceState) error {
	if len(sources) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ensure sources: %w", err)
	}
	for _, src := range sources {
		_, err := sq.Insert(s.sources).Options("OR IGNORE").
			Columns("name", "interval_minutes", "enabled").
			Values(src.Name, src.IntervalMinutes, src.Enabled).
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ensure source %s: %w", src.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ensure sources: %w", err)
	}
	return nil
}

// ListSources returns registry rows ordered by name.
func (s *ArticleStore) ListSources(ctx context.Context) ([]ingest.SourceState, error) {
	rows, err := sq.Select("name", "interval_minutes", "enabled", "last_run_at").
		From(s.sources).OrderBy("name").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []ingest.SourceState
	for rows.Next() {
		var (
			src     ingest.SourceState
			lastRun sql.NullString
		)
		if err := rows.Scan(&src.Name, &src.IntervalMinutes, &src.Enabled, &lastRun); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if lastRun.Valid {
			at, err := time.Parse(time.RFC3339Nano, lastRun.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_run_at: %w", err)
			}
			src.LastRunAt = &at
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// SetEnabled flips the operator flag of a source.
func (s *ArticleStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return s.updateSource(ctx, name, sq.Eq{"enabled": enabled})
}

// MarkRun records the completion time of a poll cycle.
func (s *ArticleStore) MarkRun(ctx context.Context, name string, at time.Time) error {
	return s.updateSource(ctx, name, sq.Eq{"last_run_at": formatTime(at)})
}

func (s *ArticleStore) updateSource(ctx context.Context, name string, set sq.Eq) error {
	res, err := sq.Update(s.sources).SetMap(set).Where(sq.Eq{"name": name}).
		RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("update source %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update source %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("source %s: %w", name, ingest.ErrNotFound)
	}
	return nil
}
