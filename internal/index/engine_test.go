package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/pagestore/internal/models"
)

func TestEngineReplaceAllPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	e := testEngine(t, path)

	in := []models.IndexEntry{entry("b", "Beta", 2, "x"), entry("a", "Alpha", 1)}
	in[0].AllowedGroups = []string{"staff"}
	gen := time.Date(2024, 1, 2, 3, 4, 5, 6e6, time.UTC)
	if err := e.ReplaceAll(ctx, in, gen); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	e.Close()

	reopened := testEngine(t, path)
	got, err := reopened.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("entries after reload (-want +got):\n%s", diff)
	}
	meta, ok, err := reopened.Meta(ctx)
	if err != nil || !ok {
		t.Fatalf("Meta: ok=%v err=%v", ok, err)
	}
	want := models.IndexMeta{Version: SchemaVersion, GeneratedAt: "2024-01-02T03:04:05.006Z", GeneratedMs: gen.UnixMilli(), TotalPages: 2}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Errorf("meta (-want +got):\n%s", diff)
	}
	if leftovers, _ := filepath.Glob(path + ".*.tmp"); len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestEngineUpsertAndRemove(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, filepath.Join(t.TempDir(), "index.db"))
	gen := time.Now().Add(-time.Minute)
	if err := e.ReplaceAll(ctx, []models.IndexEntry{entry("a", "Alpha", 1)}, gen); err != nil {
		t.Fatal(err)
	}

	updated := entry("a", "Alpha Two", 5)
	at := time.Now()
	if err := e.UpsertOne(ctx, updated, at); err != nil {
		t.Fatalf("UpsertOne: %v", err)
	}
	if err := e.UpsertOne(ctx, entry("b", "Beta", 3), at); err != nil {
		t.Fatalf("UpsertOne: %v", err)
	}
	got, _ := e.Entries(ctx)
	if diff := cmp.Diff([]string{"a", "b"}, slugs(got)); diff != "" {
		t.Errorf("slugs (-want +got):\n%s", diff)
	}
	if got[0].Title != "Alpha Two" {
		t.Errorf("upsert did not replace the row: %+v", got[0])
	}
	meta, _, _ := e.Meta(ctx)
	if meta.TotalPages != 2 || meta.GeneratedMs != at.UnixMilli() {
		t.Errorf("meta after upsert = %+v", meta)
	}

	if err := e.RemoveOne(ctx, "a", time.Time{}); err != nil {
		t.Fatalf("RemoveOne: %v", err)
	}
	got, _ = e.Entries(ctx)
	if diff := cmp.Diff([]string{"b"}, slugs(got)); diff != "" {
		t.Errorf("slugs after remove (-want +got):\n%s", diff)
	}
	meta, _, _ = e.Meta(ctx)
	if meta.TotalPages != 1 || meta.GeneratedMs != at.UnixMilli() {
		t.Errorf("zero time must not advance generatedAt: %+v", meta)
	}
}

func TestEngineUpsertWithoutGenerationStaysMissing(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, filepath.Join(t.TempDir(), "index.db"))
	if err := e.UpsertOne(ctx, entry("a", "Alpha", 1), time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := e.Meta(ctx); ok {
		t.Error("an index never rebuilt must stay missing")
	}
}

func TestEngineCandidates(t *testing.T) {
	ctx := context.Background()
	e := testEngine(t, filepath.Join(t.TempDir(), "index.db"))
	a := entry("docker", "Docker Setup", 2, "devops")
	a.Searchable = "docker setup devops"
	b := entry("wiki", "Wiki Basics", 1, "docs", "devops-notes")
	b.Searchable = "wiki basics docs devops-notes"
	if err := e.ReplaceAll(ctx, []models.IndexEntry{a, b}, time.Now()); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		flt  Filter
		want []string
	}{
		{"term", Filter{Terms: []string{"docker"}}, []string{"docker"}},
		{"exclude", Filter{Terms: []string{"basics"}, Exclude: []string{"docker"}}, []string{"wiki"}},
		{"tag exact", Filter{Tags: []string{"devops"}}, []string{"docker"}},
		{"all", Filter{}, []string{"docker", "wiki"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Candidates(ctx, tc.flt)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, slugs(got)); diff != "" {
				t.Errorf("candidates (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEngineQuarantinesCorruptImage(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	if err := os.WriteFile(path, []byte("this is definitely not a sqlite database image, just garbage bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := testEngine(t, path)

	aside, _ := filepath.Glob(path + ".corrupt-*")
	if len(aside) != 1 {
		t.Fatalf("quarantined files = %v, want exactly one", aside)
	}
	if _, ok, err := e.Meta(ctx); ok || err != nil {
		t.Errorf("fresh index: ok=%v err=%v", ok, err)
	}
	got, err := e.Entries(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("fresh index entries = %v err=%v", got, err)
	}
	if err := e.ReplaceAll(ctx, []models.IndexEntry{entry("a", "A", 1)}, time.Now()); err != nil {
		t.Fatalf("ReplaceAll on recovered engine: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("image not rewritten: %v", err)
	}
}

func TestEngineMigratesOlderImage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	// An image from before allowed_groups existed.
	old, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = old.Exec(`
		CREATE TABLE pages (
			slug TEXT PRIMARY KEY, title TEXT NOT NULL DEFAULT '',
			category_id TEXT NOT NULL DEFAULT '', category_name TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL DEFAULT 'all', allowed_users TEXT NOT NULL DEFAULT '[]',
			encrypted INTEGER NOT NULL DEFAULT 0, tags TEXT NOT NULL DEFAULT '[]',
			excerpt TEXT NOT NULL DEFAULT '', updated_at TEXT NOT NULL DEFAULT '',
			updated_ms INTEGER NOT NULL DEFAULT 0, searchable TEXT NOT NULL DEFAULT '');
		CREATE TABLE index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);
		INSERT INTO pages (slug, title, updated_ms) VALUES ('legacy', 'Legacy', 7);
		INSERT INTO index_meta VALUES ('schemaVersion', '2'), ('generatedAt', '2023-01-01T00:00:00.000Z'), ('totalPages', '1');
	`)
	if err != nil {
		t.Fatal(err)
	}
	old.Close()

	e := testEngine(t, path)
	got, err := e.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 1 || got[0].Slug != "legacy" || got[0].AllowedGroups == nil {
		t.Fatalf("migrated entries = %+v", got)
	}
	if reason := Check(ctx, e, NewTracker()); reason != ReasonVersionMismatch {
		t.Errorf("Check = %s, want version-mismatch", reason)
	}

	// Running the migration again is a no-op.
	if err := migrate(ctx, e.db); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}
