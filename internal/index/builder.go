package index

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/encryption"
	"github.com/starford/pagestore/internal/frontmatter"
	"github.com/starford/pagestore/internal/models"
	"github.com/starford/pagestore/internal/storage"
)

// KeyCategory is the extras key holding a document's category id.
const KeyCategory = "category"

const (
	excerptLen       = 200
	searchableMaxLen = 32 << 10
	defaultWorkers   = 8
)

// CategoryResolver maps a category id to its display name.
type CategoryResolver interface {
	CategoryName(id string) (string, bool)
}

// PrincipalSource returns the users and groups allowed to see a document.
// The lists are attached to index entries verbatim and never evaluated here.
type PrincipalSource interface {
	Principals(slug string) (users, groups []string)
}

type noCategories struct{}

func (noCategories) CategoryName(string) (string, bool) { return "", false }

type noPrincipals struct{}

func (noPrincipals) Principals(string) ([]string, []string) { return nil, nil }

// Builder projects documents into index entries.
type Builder struct {
	store      storage.Provider
	cipher     *encryption.Cipher
	categories CategoryResolver
	principals PrincipalSource
	workers    int
	logger     *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCategories sets the category resolver.
func WithCategories(r CategoryResolver) BuilderOption {
	return func(b *Builder) { b.categories = r }
}

// WithPrincipals sets the principal source.
func WithPrincipals(p PrincipalSource) BuilderOption {
	return func(b *Builder) { b.principals = p }
}

// WithWorkers bounds the number of documents read concurrently by ScanAll.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithBuilderLogger sets the logger.
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder returns a Builder reading from store. cipher may be locked.
func NewBuilder(store storage.Provider, cipher *encryption.Cipher, opts ...BuilderOption) *Builder {
	b := &Builder{
		store:      store,
		cipher:     cipher,
		categories: noCategories{},
		principals: noPrincipals{},
		workers:    defaultWorkers,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Entry projects one raw document.
func (b *Builder) Entry(s string, raw []byte) models.IndexEntry {
	doc := frontmatter.Parse(raw)
	f := doc.Fields

	e := models.IndexEntry{
		Slug:       s,
		Title:      f.Title,
		Visibility: string(f.Access),
		Encrypted:  f.Encrypted,
		Tags:       append([]string{}, f.Tags...),
		UpdatedAt:  frontmatter.FormatTime(f.UpdatedAt),
		UpdatedMs:  f.UpdatedAt.UnixMilli(),
	}
	if id, ok := doc.Extras.String(KeyCategory); ok {
		e.CategoryID = id
		e.CategoryName, _ = b.categories.CategoryName(id)
	}
	users, groups := b.principals.Principals(s)
	e.AllowedUsers = append([]string{}, users...)
	e.AllowedGroups = append([]string{}, groups...)

	var body string
	if f.Access == frontmatter.AccessConfidential {
		e.Tags = []string{}
	} else {
		res := doc.OpenBody(b.cipher)
		switch res.State {
		case encryption.StateOK:
			body = plainText(string(res.Plaintext))
		default:
			b.logger.Debug("index: body skipped",
				slog.String("slug", s),
				slog.String("state", string(res.State)))
		}
		e.Excerpt = excerpt(body)
	}
	e.Searchable = searchable(e, body)
	return e
}

// Load reads a document through the store and projects it.
func (b *Builder) Load(s string) (models.IndexEntry, error) {
	res, err := b.store.Read(s)
	if err != nil {
		return models.IndexEntry{}, err
	}
	return b.Entry(s, res.Content), nil
}

// ScanAll reads every document and returns its entries sorted by update time.
// progress, if non-nil, is called with the number of documents processed so
// far; the first call reports zero processed. Documents that vanish or fail
// strict integrity are skipped; any other read error aborts the scan.
func (b *Builder) ScanAll(ctx context.Context, progress func(done, total int)) ([]models.IndexEntry, error) {
	docs, err := b.store.List()
	if err != nil {
		return nil, err
	}
	total := len(docs)
	if progress != nil {
		progress(0, total)
	}

	entries := make([]models.IndexEntry, total)
	keep := make([]bool, total)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, di := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := b.Load(di.Slug)
			switch {
			case err == nil:
				entries[i], keep[i] = e, true
			case errors.Is(err, apperr.ErrNotFound):
			case errors.Is(err, apperr.ErrIntegrityMismatch):
				b.logger.Warn("index: skipped tampered document", slog.String("slug", di.Slug))
			default:
				return err
			}
			n := done.Add(1)
			if progress != nil {
				progress(int(n), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := entries[:0]
	for i, e := range entries {
		if keep[i] {
			out = append(out, e)
		}
	}
	SortEntries(out)
	return out, nil
}

var (
	reFence    = regexp.MustCompile("(?s)```.*?```")
	reImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reWikiLink = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
	reHTML     = regexp.MustCompile(`<[^>]+>`)
	reMarkup   = regexp.MustCompile("[#*_>`~|]+")
	reSpace    = regexp.MustCompile(`\s+`)
)

// plainText strips the common markdown markup so substring scoring works on
// prose.
func plainText(md string) string {
	s := reFence.ReplaceAllString(md, " ")
	s = reImage.ReplaceAllString(s, "$1")
	s = reWikiLink.ReplaceAllStringFunc(s, func(m string) string {
		sub := reWikiLink.FindStringSubmatch(m)
		if sub[2] != "" {
			return sub[2]
		}
		return sub[1]
	})
	s = reLink.ReplaceAllString(s, "$1")
	s = reHTML.ReplaceAllString(s, " ")
	s = reMarkup.ReplaceAllString(s, " ")
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptLen {
		return text
	}
	cut := string(r[:excerptLen])
	if i := strings.LastIndexByte(cut, ' '); i > excerptLen/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}

func searchable(e models.IndexEntry, body string) string {
	parts := []string{e.Title}
	if e.CategoryName != "" {
		parts = append(parts, e.CategoryName)
	}
	parts = append(parts, e.Tags...)
	if body != "" {
		parts = append(parts, body)
	}
	s := strings.ToLower(strings.Join(parts, " "))
	if len(s) > searchableMaxLen {
		s = strings.ToValidUTF8(s[:searchableMaxLen], "")
	}
	return s
}
