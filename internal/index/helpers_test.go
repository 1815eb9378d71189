package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/pagestore/internal/encryption"
	"github.com/starford/pagestore/internal/frontmatter"
	"github.com/starford/pagestore/internal/models"
	"github.com/starford/pagestore/internal/slug"
	"github.com/starford/pagestore/internal/storage"
	"github.com/starford/pagestore/internal/testutil"
)

func testBuilder(t *testing.T) (*storage.FS, *Builder) {
	t.Helper()
	_, store := testutil.TestStore(t)
	return store, NewBuilder(store, nil, WithBuilderLogger(testutil.Logger()))
}

func testEngine(t *testing.T, path string) *Engine {
	t.Helper()
	e, err := OpenEngine(context.Background(), path, testutil.Logger())
	if err != nil {
		t.Fatalf("OpenEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// rawPage renders a document with full control over fields and extras.
func rawPage(t *testing.T, f frontmatter.Fields, body string, extras map[string]string) []byte {
	t.Helper()
	var ex frontmatter.Extras
	for k, v := range extras {
		ex.SetString(k, v)
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = time.Now().UTC()
	}
	raw, err := frontmatter.Serialize(f, body, ex)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return raw
}

func entry(slug, title string, updatedMs int64, tags ...string) models.IndexEntry {
	if tags == nil {
		tags = []string{}
	}
	return models.IndexEntry{
		Slug:          slug,
		Title:         title,
		Visibility:    "all",
		AllowedUsers:  []string{},
		AllowedGroups: []string{},
		Tags:          tags,
		UpdatedAt:     time.UnixMilli(updatedMs).UTC().Format(frontmatter.TimeLayout),
		UpdatedMs:     updatedMs,
		Searchable:    title,
	}
}

func mustCipher(t *testing.T) *encryption.Cipher {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := encryption.New(key)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func slugs(entries []models.IndexEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Slug
	}
	return out
}

// tamper appends bytes to a stored document without touching its sidecar.
func tamper(t *testing.T, root, s string) {
	t.Helper()
	path := filepath.Join(root, slug.Shard(s), s+storage.DocExt)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("tampered"); err != nil {
		t.Fatal(err)
	}
}
