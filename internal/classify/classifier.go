package classify

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ghalehnoei/news-scraper/internal/logging"
	"github.com/ghalehnoei/news-scraper/internal/metrics"
)

const hierarchySeparator = ">"

// Classifier normalizes raw category labels per source. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	tables Tables
	logger *zap.Logger
}

// New creates a Classifier over tables.
func New(tables Tables, logger *zap.Logger) *Classifier {
	if tables == nil {
		tables = Tables{}
	}
	return &Classifier{tables: tables, logger: logging.OrNop(logger)}
}

// Normalize returns the normalized category and the trimmed raw label. Blank
// input yields two empty strings. Unmatched labels map to Other and are
// reported as misses.
func (c *Classifier) Normalize(source, raw string) (Category, string) {
	category, raw, step := c.lookup(source, raw)
	switch step {
	case stepDefault:
		c.logger.Debug("category defaulted",
			zap.String("source", source), zap.String("raw_category", raw),
			zap.String("category", string(category)))
	case stepMiss:
		c.logger.Warn("unmapped category",
			zap.String("source", source), zap.String("raw_category", raw))
		metrics.ObserveCategoryMiss(source)
	}
	return category, raw
}

// Preview is Normalize without logging or miss accounting, for operator tools.
func (c *Classifier) Preview(source, raw string) (Category, string) {
	category, raw, _ := c.lookup(source, raw)
	return category, raw
}

type lookupStep int

const (
	stepMatched lookupStep = iota
	stepDefault
	stepMiss
)

func (c *Classifier) lookup(source, raw string) (Category, string, lookupStep) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", stepMatched
	}
	table := c.tables[source]

	if category, ok := table.match(raw); ok {
		return category, raw, stepMatched
	}
	if main, _, found := strings.Cut(raw, hierarchySeparator); found {
		if main = strings.TrimSpace(main); main != "" {
			if category, ok := table.match(main); ok {
				return category, raw, stepMatched
			}
		}
	}
	for _, rule := range table.Prefixes {
		if strings.HasPrefix(raw, rule.Prefix) {
			return rule.Category, raw, stepMatched
		}
	}
	if table.Default != "" {
		return table.Default, raw, stepDefault
	}
	return Other, raw, stepMiss
}

// match runs exact, case-insensitive and bidirectional substring matching in that order.
func (t Table) match(raw string) (Category, bool) {
	for _, m := range t.Mappings {
		if m.Raw == raw {
			return m.Category, true
		}
	}
	lower := strings.ToLower(raw)
	for _, m := range t.Mappings {
		if strings.ToLower(m.Raw) == lower {
			return m.Category, true
		}
	}
	for _, m := range t.Mappings {
		key := strings.ToLower(m.Raw)
		if strings.Contains(lower, key) || strings.Contains(key, lower) {
			return m.Category, true
		}
	}
	return "", false
}

// Sources returns the names of sources that have a table.
func (c *Classifier) Sources() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
