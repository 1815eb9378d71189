// Package testutil provides shared test helpers for setting up document
// roots and pages.
package testutil

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/starford/pagestore/internal/frontmatter"
	"github.com/starford/pagestore/internal/storage"
)

// TestStore creates a temporary document root with a storage.FS.
func TestStore(t *testing.T, opts ...storage.Option) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Page renders a document with the given title, tags and body.
func Page(t *testing.T, title string, tags []string, body string) []byte {
	t.Helper()
	f := frontmatter.DefaultFields()
	f.Title = title
	if tags != nil {
		f.Tags = tags
	}
	f.UpdatedAt = time.Now().UTC()
	raw, err := frontmatter.Serialize(f, body, frontmatter.Extras{})
	if err != nil {
		t.Fatalf("serialize %q: %v", title, err)
	}
	return raw
}

// WritePage stores a rendered page under slug.
func WritePage(t *testing.T, store storage.Provider, slug, title string, tags []string, body string) {
	t.Helper()
	if _, err := store.Write(slug, Page(t, title, tags, body)); err != nil {
		t.Fatalf("write %s: %v", slug, err)
	}
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatal(msg)
}
