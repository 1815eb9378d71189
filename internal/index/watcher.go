package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/pagestore/internal/slug"
	"github.com/starford/pagestore/internal/storage"
)

const watchDebounce = 150 * time.Millisecond

// ChangeFunc is called with the slugs whose files changed on disk.
type ChangeFunc func(slugs []string)

// Watch starts an fsnotify watcher on the document root and its shard
// directories and reports changed slugs until ctx is cancelled. Events are
// coalesced for a short debounce window so an atomic rename is reported
// once. Temp files and sidecars are ignored.
//
// Shard directories created at runtime are added to the watch list and any
// documents already inside them are reported.
func Watch(ctx context.Context, root string, logger *slog.Logger, onChange ChangeFunc) error {
	root = filepath.Clean(root)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addShardDirs(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func(s string) {
		pending[s] = struct{}{}
		if flushTimer == nil {
			flushTimer = time.NewTimer(watchDebounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flushTimer, flushCh = nil, nil
			slugs := make([]string, 0, len(pending))
			for s := range pending {
				slugs = append(slugs, s)
			}
			clear(pending)
			logger.Debug("watcher: changes", slog.Int("count", len(slugs)))
			onChange(slugs)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 && filepath.Dir(ev.Name) == root {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.Add(ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
						continue
					}
					logger.Debug("watcher: watching new dir", slog.String("path", ev.Name))
					for _, s := range docsIn(ev.Name) {
						schedule(s)
					}
					continue
				}
			}

			if s, ok := slugOf(ev.Name); ok {
				schedule(s)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// slugOf maps a document path to its slug. Temp files and sidecars are not
// documents.
func slugOf(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, storage.DocExt) {
		return "", false
	}
	s := strings.TrimSuffix(name, storage.DocExt)
	if slug.Validate(s) != nil {
		return "", false
	}
	return s, true
}

func docsIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if s, ok := slugOf(e.Name()); ok {
			out = append(out, s)
		}
	}
	return out
}

// addShardDirs adds root and its first-level directories to the watcher.
func addShardDirs(w *fsnotify.Watcher, root string) error {
	if err := w.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
