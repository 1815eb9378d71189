package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/models"
)

// snapshot is the on-disk layout of the flat index.
type snapshot struct {
	Version     int                 `json:"version"`
	GeneratedAt string              `json:"generatedAt"`
	TotalPages  int                 `json:"totalPages"`
	Pages       []models.IndexEntry `json:"pages"`
}

// Flat is a Backend holding the whole index in one JSON file. It is only
// ever replaced wholesale; single-document mutations mark it dirty until the
// next rebuild.
type Flat struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	snap  *snapshot
	meta  models.IndexMeta
	dirty bool
}

// OpenFlat loads the snapshot at path. A missing or unreadable file leaves
// the backend empty.
func OpenFlat(path string, logger *slog.Logger) (*Flat, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("index: flat: mkdir: %w", err)
	}
	f := &Flat{path: path, logger: logger}
	if err := f.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("index: flat snapshot unreadable",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return f, nil
}

func (f *Flat) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrIndexUnavailable, err)
	}
	ms, ok := parseMetaTime(s.GeneratedAt)
	if !ok {
		return fmt.Errorf("%w: bad generatedAt %q", apperr.ErrIndexUnavailable, s.GeneratedAt)
	}
	if s.Pages == nil {
		s.Pages = []models.IndexEntry{}
	}
	f.snap = &s
	f.meta = models.IndexMeta{Version: s.Version, GeneratedAt: s.GeneratedAt, GeneratedMs: ms, TotalPages: len(s.Pages)}
	return nil
}

// Name implements Backend.
func (f *Flat) Name() string { return BackendFlat }

// Path returns the snapshot file path.
func (f *Flat) Path() string { return f.path }

// Dirty reports whether a document changed since the snapshot was written.
func (f *Flat) Dirty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirty
}

// Meta implements Backend.
func (f *Flat) Meta(context.Context) (models.IndexMeta, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snap == nil {
		return models.IndexMeta{}, false, nil
	}
	return f.meta, true, nil
}

// ReplaceAll writes a fresh snapshot atomically and swaps it in.
func (f *Flat) ReplaceAll(_ context.Context, entries []models.IndexEntry, generatedAt time.Time) error {
	iso, ms := metaTime(generatedAt)
	pages := append([]models.IndexEntry{}, entries...)
	SortEntries(pages)
	s := &snapshot{Version: SchemaVersion, GeneratedAt: iso, TotalPages: len(pages), Pages: pages}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("index: flat: encode: %w", err)
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("index: flat: write: %w", err)
	}

	f.mu.Lock()
	f.snap = s
	f.meta = models.IndexMeta{Version: s.Version, GeneratedAt: iso, GeneratedMs: ms, TotalPages: s.TotalPages}
	f.dirty = false
	f.mu.Unlock()
	return nil
}

// UpsertOne marks the snapshot dirty. The flat file is never patched in place.
func (f *Flat) UpsertOne(context.Context, models.IndexEntry, time.Time) error {
	f.markDirty()
	return nil
}

// RemoveOne marks the snapshot dirty.
func (f *Flat) RemoveOne(context.Context, string, time.Time) error {
	f.markDirty()
	return nil
}

func (f *Flat) markDirty() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

// Entries implements Backend.
func (f *Flat) Entries(context.Context) ([]models.IndexEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snap == nil {
		return nil, apperr.ErrIndexUnavailable
	}
	return append([]models.IndexEntry{}, f.snap.Pages...), nil
}

// Candidates implements Backend.
func (f *Flat) Candidates(_ context.Context, flt Filter) ([]models.IndexEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.snap == nil {
		return nil, apperr.ErrIndexUnavailable
	}
	var out []models.IndexEntry
	for _, e := range f.snap.Pages {
		if flt.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close implements Backend.
func (f *Flat) Close() error { return nil }
