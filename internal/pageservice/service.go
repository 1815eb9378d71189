// Package pageservice is the entry point for callers that read, write and
// search pages. It owns the render cache, the mutation tracker and the
// rebuild job for one document root.
package pageservice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/encryption"
	"github.com/starford/pagestore/internal/frontmatter"
	"github.com/starford/pagestore/internal/index"
	"github.com/starford/pagestore/internal/integrity"
	"github.com/starford/pagestore/internal/metrics"
	"github.com/starford/pagestore/internal/models"
	"github.com/starford/pagestore/internal/search"
	"github.com/starford/pagestore/internal/slug"
	"github.com/starford/pagestore/internal/storage"
)

// Input is the caller-editable part of a page.
type Input struct {
	Title     string             `json:"title"`
	Tags      []string           `json:"tags"`
	Access    frontmatter.Access `json:"access"`
	Sensitive bool               `json:"sensitive"`
	Encrypt   bool               `json:"encrypt"`
	Body      string             `json:"body"`
	// Extras are merged into the stored non-canonical keys. A nil value
	// removes the key.
	Extras map[string]any `json:"extras,omitempty"`
}

// Page is the full representation of a stored page.
type Page struct {
	Slug         string              `json:"slug"`
	Title        string              `json:"title"`
	Tags         []string            `json:"tags"`
	Access       frontmatter.Access  `json:"access"`
	Sensitive    bool                `json:"sensitive"`
	Encrypted    bool                `json:"encrypted"`
	UpdatedAt    time.Time           `json:"updatedAt"`
	Version      int                 `json:"version"`
	Body         string              `json:"body"`
	ContentState encryption.State    `json:"contentState"`
	Integrity    integrity.Status    `json:"integrity"`
	ETag         storage.ChangeToken `json:"etag"`
	Extras       map[string]any      `json:"extras,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
}

func (p Page) clone() Page {
	p.Tags = append([]string{}, p.Tags...)
	p.Warnings = append([]string(nil), p.Warnings...)
	if p.Extras != nil {
		ex := make(map[string]any, len(p.Extras))
		for k, v := range p.Extras {
			ex[k] = v
		}
		p.Extras = ex
	}
	return p
}

// CheckReport is the outcome of a consistency check.
type CheckReport struct {
	Reason       index.Reason `json:"reason"`
	Backend      string       `json:"backend"`
	Version      int          `json:"version"`
	GeneratedAt  string       `json:"generatedAt,omitempty"`
	TotalPages   int          `json:"totalPages"`
	LastMutation string       `json:"lastMutation,omitempty"`
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store     storage.Provider
	Cipher    *encryption.Cipher
	Backend   index.Backend
	Builder   *index.Builder
	Tracker   *index.Tracker
	Rebuilder *index.Rebuilder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// AutoRebuild, when positive, schedules a background rebuild this long
	// after the last mutation of a flat index.
	AutoRebuild time.Duration
	CacheSize   int
}

// Service coordinates storage, the render cache and the index.
type Service struct {
	store     storage.Provider
	cipher    *encryption.Cipher
	backend   index.Backend
	builder   *index.Builder
	tracker   *index.Tracker
	rebuilder *index.Rebuilder
	search    *search.Engine
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cache     *renderCache
	auto      *debouncer
	repair    *debouncer
	now       func() time.Time

	// known maps slugs to the change token last indexed by this process so
	// watcher echoes of our own writes are skipped.
	mu    sync.Mutex
	known map[string]storage.ChangeToken

	// idxMu orders freshness checks, tracker updates and single-entry
	// index writes so that concurrent mutations cannot interleave them.
	idxMu sync.Mutex
}

// New creates a Service. Store and Backend are required.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracker == nil {
		d.Tracker = index.NewTracker()
	}
	if d.Builder == nil {
		d.Builder = index.NewBuilder(d.Store, d.Cipher, index.WithBuilderLogger(d.Logger))
	}
	if d.Rebuilder == nil {
		d.Rebuilder = index.NewRebuilder(d.Backend, d.Builder, d.Metrics, d.Logger)
	}
	s := &Service{
		store:     d.Store,
		cipher:    d.Cipher,
		backend:   d.Backend,
		builder:   d.Builder,
		tracker:   d.Tracker,
		rebuilder: d.Rebuilder,
		search:    search.New(d.Backend, d.Tracker, d.Builder, d.Metrics, d.Logger),
		metrics:   d.Metrics,
		logger:    d.Logger,
		cache:     newRenderCache(d.CacheSize),
		now:       time.Now,
		known:     make(map[string]storage.ChangeToken),
	}
	startRebuild := func() bool {
		started, _ := s.rebuilder.Start(context.Background())
		return started
	}
	if d.Backend.Name() == index.BackendFlat {
		if d.AutoRebuild > 0 {
			s.auto = newDebouncer(d.AutoRebuild, startRebuild)
		}
	} else {
		s.repair = newDebouncer(repairDelay, startRebuild)
	}
	return s
}

// repairDelay is how long a stale single-entry index waits for writes to
// settle before it is rebuilt. The scan then starts past the last mutation.
const repairDelay = 50 * time.Millisecond

// Seed advances the mutation tracker to the newest document modification
// time on disk, so edits made while no process was running count as
// mutations the index has not seen.
func (s *Service) Seed() error {
	docs, err := s.store.List()
	if err != nil {
		return err
	}
	var newest time.Time
	for _, d := range docs {
		if d.ModTime.After(newest) {
			newest = d.ModTime
		}
	}
	if !newest.IsZero() {
		s.tracker.Seed(newest)
	}
	return nil
}

// Start seeds the tracker and starts a rebuild unless the index is
// consistent.
func (s *Service) Start(ctx context.Context) (index.Reason, error) {
	if err := s.Seed(); err != nil {
		return "", err
	}
	return index.EnsureFresh(ctx, s.backend, s.tracker, s.rebuilder, s.logger), nil
}

// Close stops background work owned by the service.
func (s *Service) Close() {
	s.auto.stop()
	s.repair.stop()
}

// Get returns a page. Repeated reads of an unchanged file are served from
// the render cache. Encrypted bodies that cannot be opened come back with
// an empty body and a locked or failed content state.
func (s *Service) Get(_ context.Context, sl string) (*Page, error) {
	if err := slug.Validate(sl); err != nil {
		return nil, err
	}
	token, ok := s.store.ChangeToken(sl)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if p, hit := s.cache.get(sl, token); hit {
		s.metrics.Cache(true)
		return &p, nil
	}
	s.metrics.Cache(false)

	res, err := s.store.Read(sl)
	if err != nil {
		if errors.Is(err, apperr.ErrIntegrityMismatch) {
			s.metrics.Read(string(integrity.StatusMismatch))
		}
		return nil, err
	}
	s.metrics.Read(string(res.Integrity))

	doc := frontmatter.Parse(res.Content)
	p := s.render(sl, doc, doc.OpenBody(s.cipher))
	p.Integrity = res.Integrity
	p.ETag = res.Token
	if res.Integrity != integrity.StatusUnverifiable {
		s.cache.put(sl, res.Token, p)
	}
	return &p, nil
}

// Save validates in and writes it as the next version of the page. When
// ifMatch is set the write only happens if the stored revision still has
// that change token. Index maintenance failures are logged, never returned.
func (s *Service) Save(ctx context.Context, sl string, in Input, ifMatch string) (*Page, error) {
	if err := slug.Validate(sl); err != nil {
		s.metrics.Write("invalid")
		return nil, err
	}
	fields := frontmatter.Fields{
		Title:     strings.TrimSpace(in.Title),
		Tags:      frontmatter.NormalizeTags(in.Tags),
		Access:    in.Access,
		Sensitive: in.Sensitive,
		Encrypted: in.Encrypt,
		UpdatedAt: s.now().UTC().Truncate(time.Millisecond),
		Version:   1,
	}
	if fields.Access == "" {
		fields.Access = frontmatter.AccessAll
	}
	if err := frontmatter.Validate(fields); err != nil {
		s.metrics.Write("invalid")
		return nil, err
	}
	if in.Encrypt && !s.cipher.Available() {
		s.metrics.Write("error")
		return nil, apperr.ErrEncryptionUnavailable
	}

	var doc frontmatter.Document
	var written []byte
	token, err := s.store.Update(sl, func(cur storage.Current) ([]byte, error) {
		if ifMatch != "" {
			if !cur.Exists {
				return nil, apperr.ErrNotFound
			}
			if string(cur.Token) != ifMatch {
				return nil, apperr.ErrConflict
			}
		}
		doc = frontmatter.Document{Fields: fields}
		if cur.Exists {
			prev := frontmatter.Parse(cur.Content)
			doc.Fields.Version = prev.Fields.Version + 1
			doc.Extras = prev.Extras.Clone()
		}
		for k, v := range in.Extras {
			if v == nil {
				doc.Extras.Delete(k)
				continue
			}
			if err := doc.Extras.Set(k, v); err != nil {
				return nil, apperr.Invalid("extras", "%s: %v", k, err)
			}
		}
		if in.Encrypt {
			if err := doc.Seal(s.cipher, in.Body); err != nil {
				return nil, err
			}
		} else {
			doc.Unseal(in.Body)
		}
		raw, err := frontmatter.Serialize(doc.Fields, doc.Body, doc.Extras)
		if err != nil {
			return nil, err
		}
		written = raw
		return raw, nil
	})
	if err != nil {
		s.metrics.Write(writeResult(err))
		return nil, err
	}
	s.metrics.Write("ok")
	s.cache.invalidate(sl)

	s.indexUpsert(ctx, sl, s.builder.Entry(sl, written), token)

	p := s.render(sl, doc, encryption.Result{State: encryption.StateOK, Plaintext: []byte(in.Body)})
	p.ETag = token
	p.Integrity = integrity.StatusDisabled
	return &p, nil
}

// Delete removes a page and drops it from the index.
func (s *Service) Delete(ctx context.Context, sl string) error {
	if err := s.store.Delete(sl); err != nil {
		s.metrics.Delete(writeResult(err))
		return err
	}
	s.metrics.Delete("ok")
	s.cache.invalidate(sl)
	s.indexRemove(ctx, sl)
	return nil
}

// Refresh reconciles the index with documents changed outside this service.
// Slugs whose file still carries the token this process indexed are skipped.
func (s *Service) Refresh(ctx context.Context, slugs []string) {
	for _, sl := range slugs {
		token, exists := s.store.ChangeToken(sl)
		s.mu.Lock()
		prev, seen := s.known[sl]
		s.mu.Unlock()
		if exists == seen && token == prev {
			continue
		}

		s.cache.invalidate(sl)
		if !exists {
			s.logger.Info("pageservice: external delete", slog.String("slug", sl))
			s.indexRemove(ctx, sl)
			continue
		}
		e, err := s.builder.Load(sl)
		if errors.Is(err, apperr.ErrNotFound) {
			s.indexRemove(ctx, sl)
			continue
		}
		if err != nil {
			s.logger.Warn("pageservice: refresh read failed",
				slog.String("slug", sl),
				slog.String("error", err.Error()))
			continue
		}
		s.logger.Info("pageservice: external change", slog.String("slug", sl))
		s.indexUpsert(ctx, sl, e, token)
	}
}

func (s *Service) indexUpsert(ctx context.Context, sl string, e models.IndexEntry, token storage.ChangeToken) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	at := s.mutation(ctx)
	s.remember(sl, token, true)
	if err := s.backend.UpsertOne(ctx, e, at); err != nil {
		s.indexFailed(sl, err)
		return
	}
	s.auto.trigger()
}

func (s *Service) indexRemove(ctx context.Context, sl string) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	at := s.mutation(ctx)
	s.remember(sl, "", false)
	if err := s.backend.RemoveOne(ctx, sl, at); err != nil {
		s.indexFailed(sl, err)
		return
	}
	s.auto.trigger()
}

// mutation records a document change and returns the time the index may
// advance to, or zero when the index was not consistent beforehand.
// A stale single-entry backend schedules a repair rebuild; the flat
// backend relies on its own debounced rebuild. Callers hold idxMu.
func (s *Service) mutation(ctx context.Context) time.Time {
	reason := index.Check(ctx, s.backend, s.tracker)
	at := s.tracker.Touch()
	if reason == index.ReasonOK {
		return at
	}
	if reason == index.ReasonStale && s.repair != nil {
		s.logger.Info("pageservice: index stale, scheduling rebuild",
			slog.String("backend", s.backend.Name()))
		s.repair.trigger()
	}
	return time.Time{}
}

func (s *Service) indexFailed(sl string, err error) {
	s.logger.Warn("pageservice: index update failed, scheduling rebuild",
		slog.String("slug", sl),
		slog.String("backend", s.backend.Name()),
		slog.String("error", err.Error()))
	s.rebuilder.Start(context.Background())
}

func (s *Service) remember(sl string, token storage.ChangeToken, exists bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exists {
		s.known[sl] = token
	} else {
		delete(s.known, sl)
	}
}

// Search runs a full query.
func (s *Service) Search(ctx context.Context, q string, limit int) ([]search.Result, error) {
	return s.search.Search(ctx, q, limit)
}

// Suggest runs a type-ahead query.
func (s *Service) Suggest(ctx context.Context, prefix string, limit int) ([]search.Result, error) {
	return s.search.Suggest(ctx, prefix, limit)
}

// List returns index entries, newest first, optionally restricted to a tag.
// It reads the persisted index when usable and scans documents otherwise.
func (s *Service) List(ctx context.Context, tag string, limit, offset int) ([]models.IndexEntry, int, error) {
	f := index.Filter{}
	if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
		f.Tags = []string{tag}
	}
	var entries []models.IndexEntry
	indexed := false
	if index.Usable(ctx, s.backend, s.tracker) {
		var err error
		if entries, err = s.backend.Candidates(ctx, f); err == nil {
			indexed = true
		} else {
			s.logger.Warn("pageservice: list from index failed",
				slog.String("backend", s.backend.Name()),
				slog.String("error", err.Error()))
		}
	}
	if !indexed {
		all, err := s.builder.ScanAll(ctx, nil)
		if err != nil {
			return nil, 0, err
		}
		entries = nil
		for _, e := range all {
			if f.Match(e) {
				entries = append(entries, e)
			}
		}
	}
	total := len(entries)
	offset = min(max(offset, 0), total)
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, total, nil
}

// RebuildStart launches a background rebuild.
func (s *Service) RebuildStart(ctx context.Context) (bool, index.Status) {
	return s.rebuilder.Start(ctx)
}

// RebuildStatus reports the rebuild job.
func (s *Service) RebuildStatus() index.Status {
	return s.rebuilder.Status()
}

// Rebuild runs a rebuild synchronously.
func (s *Service) Rebuild(ctx context.Context) (index.Status, error) {
	return s.rebuilder.Run(ctx)
}

// Check reports index consistency without starting a rebuild.
func (s *Service) Check(ctx context.Context) CheckReport {
	r := CheckReport{Reason: index.Check(ctx, s.backend, s.tracker), Backend: s.backend.Name()}
	if meta, ok, _ := s.backend.Meta(ctx); ok {
		r.Version, r.GeneratedAt, r.TotalPages = meta.Version, meta.GeneratedAt, meta.TotalPages
	}
	if last := s.tracker.Last(); last > 0 {
		r.LastMutation = frontmatter.FormatTime(time.UnixMilli(last))
	}
	return r
}

// ResetCache drops every cached render.
func (s *Service) ResetCache() {
	s.cache.reset()
}

func (s *Service) render(sl string, doc frontmatter.Document, body encryption.Result) Page {
	f := doc.Fields
	p := Page{
		Slug:         sl,
		Title:        f.Title,
		Tags:         append([]string{}, f.Tags...),
		Access:       f.Access,
		Sensitive:    f.Sensitive,
		Encrypted:    f.Encrypted,
		UpdatedAt:    f.UpdatedAt,
		Version:      f.Version,
		ContentState: body.State,
		Warnings:     doc.Warnings,
	}
	if body.State == encryption.StateOK {
		p.Body = string(body.Plaintext)
	}
	ex := doc.Extras.Map()
	for _, k := range []string{frontmatter.KeyEncAlg, frontmatter.KeyEncNonce, frontmatter.KeyEncTag} {
		delete(ex, k)
	}
	if len(ex) > 0 {
		p.Extras = ex
	}
	return p
}

func writeResult(err error) string {
	switch {
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case apperr.IsValidation(err):
		return "invalid"
	}
	return "error"
}
