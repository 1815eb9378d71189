package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/starford/pagestore/internal/slug"
)

// DocExt is the document file extension.
const DocExt = ".md"

// location ranks where a document file was found.
type location int

const (
	locSharded location = iota
	locLegacy
	locOther
)

// shardedPath returns the canonical location for s.
func (f *FS) shardedPath(s string) string {
	return filepath.Join(f.root, slug.Shard(s), s+DocExt)
}

func (f *FS) legacyPath(s string) string {
	return filepath.Join(f.root, s+DocExt)
}

// resolve finds the existing file for s, preferring the sharded location,
// then the legacy flat location, then any first-level directory holding a
// same-named file.
func (f *FS) resolve(s string) (string, location, error) {
	for _, c := range []struct {
		path string
		loc  location
	}{
		{f.shardedPath(s), locSharded},
		{f.legacyPath(s), locLegacy},
	} {
		if isFile(c.path) {
			return c.path, c.loc, nil
		}
	}
	others := f.otherPaths(s)
	if len(others) > 0 {
		return others[0], locOther, nil
	}
	return "", 0, fs.ErrNotExist
}

// allPaths returns every existing file for s across all recognised
// locations.
func (f *FS) allPaths(s string) []string {
	var out []string
	for _, p := range []string{f.shardedPath(s), f.legacyPath(s)} {
		if isFile(p) {
			out = append(out, p)
		}
	}
	return append(out, f.otherPaths(s)...)
}

// otherPaths searches first-level directories other than the slug's shard.
func (f *FS) otherPaths(s string) []string {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil
	}
	shard := slug.Shard(s)
	var out []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == shard {
			continue
		}
		p := filepath.Join(f.root, e.Name(), s+DocExt)
		if isFile(p) {
			out = append(out, p)
		}
	}
	return out
}

func (f *FS) rank(s, path string) location {
	switch filepath.Dir(path) {
	case filepath.Join(f.root, slug.Shard(s)):
		return locSharded
	case f.root:
		return locLegacy
	default:
		return locOther
	}
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
