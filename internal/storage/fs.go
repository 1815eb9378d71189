package storage

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/integrity"
	"github.com/starford/pagestore/internal/keylock"
	"github.com/starford/pagestore/internal/slug"
)

const tmpExt = ".tmp"

// Seams replaced in tests.
var (
	afterContentRead = func(path string) {}
	writeSidecar     = writeAtomic
)

// FS implements Provider backed by the local file system.
type FS struct {
	root   string // absolute path to the document root
	sealer *integrity.Sealer
	logger *slog.Logger
	locks  keylock.Map
}

// Option configures an FS.
type Option func(*FS)

// WithSealer enables sidecar signing and verification.
func WithSealer(s *integrity.Sealer) Option {
	return func(f *FS) { f.sealer = s }
}

// WithLogger sets the logger used for integrity warnings and migrations.
func WithLogger(l *slog.Logger) Option {
	return func(f *FS) { f.logger = l }
}

// NewFS creates a new FS provider rooted at the given directory, creating it
// if needed.
func NewFS(root string, opts ...Option) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute document root.
func (f *FS) Root() string {
	return f.root
}

// Read returns the document bytes with its change token and integrity
// verdict. In strict mode a mismatch fails the read.
func (f *FS) Read(s string) (ReadResult, error) {
	if err := slug.Validate(s); err != nil {
		return ReadResult{}, err
	}
	path, _, err := f.resolve(s)
	if err != nil {
		return ReadResult{}, apperr.ErrNotFound
	}
	content, read, err := readWithInfo(path)
	if err != nil {
		if isNotExist(err) {
			return ReadResult{}, apperr.ErrNotFound
		}
		return ReadResult{}, fmt.Errorf("storage: read %s: %w", s, err)
	}
	token := TokenOf(read)

	res := ReadResult{Content: content, Token: token, Integrity: integrity.StatusDisabled}
	if !f.sealer.Enabled() {
		return res, nil
	}
	afterContentRead(path)

	sidecar, sErr := os.ReadFile(integrity.SidecarPath(path))
	res.Integrity = f.sealer.Verify(content, sidecar, sErr == nil)
	if res.Integrity == integrity.StatusMismatch {
		// A writer may have renamed a new revision and its sidecar while we
		// were reading. Only a stable document counts as evidence. Every
		// write renames a new file into place, so identity catches rewrites
		// that keep size and mtime.
		info, statErr := os.Stat(path)
		if statErr != nil || TokenOf(info) != token || !os.SameFile(info, read) {
			res.Integrity = integrity.StatusUnverifiable
		}
	}
	if res.Integrity == integrity.StatusMismatch {
		f.logger.Warn("storage: integrity mismatch",
			slog.String("slug", s),
			slog.String("mode", string(f.sealer.Mode())))
		if f.sealer.Strict() {
			return ReadResult{}, fmt.Errorf("storage: read %s: %w", s, apperr.ErrIntegrityMismatch)
		}
	}
	return res, nil
}

// Write atomically replaces the document content.
func (f *FS) Write(s string, content []byte) (ChangeToken, error) {
	return f.Update(s, func(Current) ([]byte, error) { return content, nil })
}

// Update reads the current revision, passes it to fn and atomically writes
// the returned bytes, all while holding the slug's write lock. Writers to the
// same slug are served in arrival order.
func (f *FS) Update(s string, fn func(Current) ([]byte, error)) (ChangeToken, error) {
	if err := slug.Validate(s); err != nil {
		return "", err
	}
	unlock := f.locks.Lock(s)
	defer unlock()

	var cur Current
	oldPath, _, resolveErr := f.resolve(s)
	if resolveErr == nil {
		content, token, err := readWithToken(oldPath)
		switch {
		case err == nil:
			cur = Current{Content: content, Token: token, Exists: true}
		case !isNotExist(err):
			return "", fmt.Errorf("storage: read current %s: %w", s, err)
		}
	}

	next, err := fn(cur)
	if err != nil {
		return "", err
	}

	target := f.shardedPath(s)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	tmpName, err := writeTemp(target, next)
	if err != nil {
		return "", err
	}

	sidecar := integrity.SidecarPath(target)
	if f.sealer.Enabled() {
		// The old sidecar goes first so no reader can pair it with the new
		// bytes. Between here and the new sidecar reads see "unverifiable".
		if err := os.Remove(sidecar); err != nil && !isNotExist(err) {
			_ = os.Remove(tmpName)
			return "", fmt.Errorf("storage: remove sidecar: %w", err)
		}
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("storage: rename: %w", err)
	}

	// The new bytes are live from here on. A missing sidecar only makes
	// them read as unverifiable, so its failure does not fail the write.
	if sig, ok := f.sealer.Sign(next); ok {
		if err := writeSidecar(sidecar, sig); err != nil {
			f.logger.Warn("storage: sidecar write failed",
				slog.String("slug", s),
				slog.String("error", err.Error()))
		}
	}

	if resolveErr == nil && oldPath != target {
		f.removeWithSidecar(oldPath)
		f.logger.Info("storage: migrated document to shard",
			slog.String("slug", s),
			slog.String("from", oldPath),
			slog.String("to", target))
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("storage: stat: %w", err)
	}
	return TokenOf(info), nil
}

// Delete removes a document from every recognised location along with its
// sidecars. Sidecar removal is best effort.
func (f *FS) Delete(s string) error {
	if err := slug.Validate(s); err != nil {
		return err
	}
	unlock := f.locks.Lock(s)
	defer unlock()

	paths := f.allPaths(s)
	if len(paths) == 0 {
		return apperr.ErrNotFound
	}
	removed := false
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			if isNotExist(err) {
				continue
			}
			return fmt.Errorf("storage: delete %s: %w", s, err)
		}
		removed = true
		if err := os.Remove(integrity.SidecarPath(p)); err != nil && !isNotExist(err) {
			f.logger.Warn("storage: sidecar cleanup failed",
				slog.String("slug", s),
				slog.String("error", err.Error()))
		}
	}
	if !removed {
		return apperr.ErrNotFound
	}
	return nil
}

// ChangeToken returns the token of the current revision with one stat.
func (f *FS) ChangeToken(s string) (ChangeToken, bool) {
	if slug.Validate(s) != nil {
		return "", false
	}
	if info, err := os.Stat(f.shardedPath(s)); err == nil {
		return TokenOf(info), true
	}
	path, _, err := f.resolve(s)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	return TokenOf(info), true
}

// List walks the root (two levels deep) and returns every document. When a
// slug exists in several locations the preferred one wins.
func (f *FS) List() ([]DocumentInfo, error) {
	best := make(map[string]DocumentInfo)
	bestLoc := make(map[string]location)

	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != f.root && filepath.Dir(p) != f.root {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, DocExt) {
			return nil
		}
		s := strings.TrimSuffix(name, DocExt)
		if slug.Validate(s) != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if isNotExist(err) {
				return nil
			}
			return err
		}
		loc := f.rank(s, p)
		if prev, ok := bestLoc[s]; ok && prev <= loc {
			return nil
		}
		bestLoc[s] = loc
		best[s] = DocumentInfo{Slug: s, Path: p, Token: TokenOf(info), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}

	out := make([]DocumentInfo, 0, len(best))
	for _, di := range best {
		out = append(out, di)
	}
	return out, nil
}

// SweepTemp removes temp files left behind by interrupted writes that are
// older than maxAge.
func (f *FS) SweepTemp(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() || !strings.HasSuffix(d.Name(), tmpExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if os.Remove(p) == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

func (f *FS) removeWithSidecar(path string) {
	if err := os.Remove(path); err != nil && !isNotExist(err) {
		f.logger.Warn("storage: remove stale copy failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	_ = os.Remove(integrity.SidecarPath(path))
}

// readWithToken reads path and returns the token of the exact file it read.
func readWithToken(path string) ([]byte, ChangeToken, error) {
	data, info, err := readWithInfo(path)
	if err != nil {
		return nil, "", err
	}
	return data, TokenOf(info), nil
}

// readWithInfo reads path and returns the stat of the open file.
func readWithInfo(path string) ([]byte, fs.FileInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, nil, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// writeAtomic writes content to path: tmp file → fsync → rename.
func writeAtomic(path string, content []byte) error {
	tmpName, err := writeTemp(path, content)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// writeTemp writes content to a fresh "<path>.<uuid>.tmp" next to path and
// returns its name. The file is synced and closed.
func writeTemp(path string, content []byte) (string, error) {
	tmpName := path + "." + uuid.NewString() + tmpExt
	tmp, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close temp: %w", err)
	}
	success = true
	return tmpName, nil
}
