package ingest

import (
	"strings"
)

// CanonicalURL strips the fragment, query string and trailing slashes.
func CanonicalURL(raw string) string {
	u := strings.TrimSpace(raw)
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

// SyntheticURL builds the canonical key for API items that lack a stable URL.
func SyntheticURL(source, guid string) string {
	return source + ":" + strings.TrimSpace(guid)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
