package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/index"
	"github.com/starford/pagestore/internal/metrics"
	"github.com/starford/pagestore/internal/models"
)

// Source tells where a result set was computed from.
type Source string

// Result sources.
const (
	SourceIndex Source = "index"
	SourceLive  Source = "live"
)

// Limits.
const (
	DefaultSearchLimit  = 50
	MaxSearchLimit      = 200
	DefaultSuggestLimit = 8
	MaxSuggestLimit     = 15
	MinSuggestPrefix    = 2
)

// Result is one ranked hit.
type Result struct {
	Entry  models.IndexEntry `json:"entry"`
	Score  int               `json:"score"`
	Source Source            `json:"source"`
}

// Engine answers search and suggest requests.
type Engine struct {
	backend index.Backend
	tracker *index.Tracker
	builder *index.Builder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns an Engine. m may be nil.
func New(backend index.Backend, tracker *index.Tracker, builder *index.Builder, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{backend: backend, tracker: tracker, builder: builder, metrics: m, logger: logger}
}

// Search ranks entries matching q. limit <= 0 selects the default.
func (e *Engine) Search(ctx context.Context, q string, limit int) ([]Result, error) {
	query := ParseQuery(q)
	limit = clamp(limit, DefaultSearchLimit, MaxSearchLimit)
	if query.Empty() {
		return []Result{}, nil
	}
	return e.run(ctx, "search", query, limit, IndexSearch, LiveSearch)
}

// Suggest ranks entries for a type-ahead prefix. Prefixes shorter than two
// characters return nothing.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]Result, error) {
	p := norm(strings.ReplaceAll(prefix, `"`, ""))
	limit = clamp(limit, DefaultSuggestLimit, MaxSuggestLimit)
	if utf8.RuneCountInString(p) < MinSuggestPrefix {
		return []Result{}, nil
	}
	return e.run(ctx, "suggest", Query{Terms: []string{p}}, limit, IndexSuggest, LiveSuggest)
}

func (e *Engine) run(ctx context.Context, kind string, q Query, limit int, indexed, live Weights) ([]Result, error) {
	source, w := SourceIndex, indexed
	candidates, err := e.indexed(ctx, q)
	if err != nil {
		e.logger.Info("search: falling back to live scan",
			slog.String("kind", kind),
			slog.String("reason", err.Error()))
		source, w = SourceLive, live
		if candidates, err = e.scan(ctx, q); err != nil {
			return nil, err
		}
	}
	e.metrics.Query(kind, string(source))

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if s := Score(c, q, w); s > 0 {
			out = append(out, Result{Entry: c, Score: s, Source: source})
		}
	}
	Rank(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// indexed returns prefiltered candidates from the persisted index, or
// apperr.ErrIndexUnavailable wrapped with the reason it cannot be used.
func (e *Engine) indexed(ctx context.Context, q Query) ([]models.IndexEntry, error) {
	if !index.Usable(ctx, e.backend, e.tracker) {
		return nil, unavailable(string(index.Check(ctx, e.backend, e.tracker)))
	}
	c, err := e.backend.Candidates(ctx, q.Filter())
	if err != nil {
		return nil, unavailable(err.Error())
	}
	return c, nil
}

func (e *Engine) scan(ctx context.Context, q Query) ([]models.IndexEntry, error) {
	all, err := e.builder.ScanAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	f := q.Filter()
	out := all[:0]
	for _, en := range all {
		if f.Match(en) {
			out = append(out, en)
		}
	}
	return out, nil
}

// Rank orders results by score, then update time, both descending, then by
// slug.
func Rank(rs []Result) {
	slices.SortStableFunc(rs, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Entry.UpdatedMs, a.Entry.UpdatedMs); c != 0 {
			return c
		}
		return strings.Compare(a.Entry.Slug, b.Entry.Slug)
	})
}

func unavailable(reason string) error {
	return fmt.Errorf("%w: %s", apperr.ErrIndexUnavailable, reason)
}

func clamp(n, def, maxN int) int {
	if n <= 0 {
		return def
	}
	return min(n, maxN)
}
