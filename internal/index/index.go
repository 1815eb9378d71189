// Package index keeps a derived, disposable search index in sync with the
// document files. Two interchangeable backends exist: a flat JSON snapshot and
// an embedded SQLite engine.
package index

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/starford/pagestore/internal/models"
)

// SchemaVersion is written into every persisted index. Bump it whenever the
// entry projection changes so existing indexes are rebuilt.
const SchemaVersion = 3

// Backend names accepted in configuration.
const (
	BackendFlat   = "flat"
	BackendSQLite = "sqlite"
)

// Filter narrows candidate entries before scoring. All values are lowercase.
type Filter struct {
	Terms   []string
	Exclude []string
	Tags    []string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e models.IndexEntry) bool {
	for _, t := range f.Tags {
		if !slices.Contains(e.Tags, t) {
			return false
		}
	}
	for _, t := range f.Terms {
		if !strings.Contains(e.Searchable, t) {
			return false
		}
	}
	for _, t := range f.Exclude {
		if strings.Contains(e.Searchable, t) {
			return false
		}
	}
	return true
}

// Backend is a persisted index. Implementations are safe for concurrent use.
type Backend interface {
	// Name returns the configuration name of the backend.
	Name() string
	// Meta returns the persisted metadata; ok is false when no index exists.
	Meta(ctx context.Context) (meta models.IndexMeta, ok bool, err error)
	// ReplaceAll swaps in a complete set of entries generated at generatedAt.
	ReplaceAll(ctx context.Context, entries []models.IndexEntry, generatedAt time.Time) error
	// UpsertOne refreshes a single entry after a mutation recorded at at.
	// A zero at means the index was already stale and must stay so.
	UpsertOne(ctx context.Context, e models.IndexEntry, at time.Time) error
	// RemoveOne drops a single entry after a deletion recorded at at.
	RemoveOne(ctx context.Context, slug string, at time.Time) error
	// Entries returns every entry, most recently updated first.
	Entries(ctx context.Context) ([]models.IndexEntry, error)
	// Candidates returns the entries that pass f.
	Candidates(ctx context.Context, f Filter) ([]models.IndexEntry, error)
	Close() error
}

// SortEntries orders entries by update time descending, then slug.
func SortEntries(entries []models.IndexEntry) {
	slices.SortStableFunc(entries, func(a, b models.IndexEntry) int {
		switch {
		case a.UpdatedMs > b.UpdatedMs:
			return -1
		case a.UpdatedMs < b.UpdatedMs:
			return 1
		}
		return strings.Compare(a.Slug, b.Slug)
	})
}

// metaTime renders a generation time and returns its millisecond value.
func metaTime(t time.Time) (string, int64) {
	t = t.UTC().Truncate(time.Millisecond)
	return t.Format("2006-01-02T15:04:05.000Z"), t.UnixMilli()
}

func parseMetaTime(s string) (int64, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}
