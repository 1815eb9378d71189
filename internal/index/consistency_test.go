package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/pagestore/internal/models"
	"github.com/starford/pagestore/internal/testutil"
)

func TestCheckReasons(t *testing.T) {
	ctx := context.Background()
	store, b := testBuilder(t)
	e := testEngine(t, filepath.Join(t.TempDir(), "index.db"))
	tr := NewTracker()
	r := NewRebuilder(e, b, nil, testutil.Logger())

	if got := Check(ctx, e, tr); got != ReasonMissing {
		t.Fatalf("empty engine: %s, want missing", got)
	}

	testutil.WritePage(t, store, "first", "First", nil, "")
	tr.Touch()
	time.Sleep(2 * time.Millisecond)
	if _, err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := Check(ctx, e, tr); got != ReasonOK {
		t.Fatalf("after rebuild: %s, want ok", got)
	}
	if !Usable(ctx, e, tr) {
		t.Error("fresh non-empty index should be usable")
	}

	time.Sleep(2 * time.Millisecond)
	testutil.WritePage(t, store, "second", "Second", nil, "")
	tr.Touch()
	if got := Check(ctx, e, tr); got != ReasonStale {
		t.Errorf("after mutation: %s, want stale", got)
	}
	if Usable(ctx, e, tr) {
		t.Error("stale index must not be usable")
	}
}

func TestCheckVersionMismatch(t *testing.T) {
	ctx := context.Background()
	f, _ := OpenFlat(filepath.Join(t.TempDir(), "pages.json"), testutil.Logger())
	_ = f.ReplaceAll(ctx, []models.IndexEntry{entry("a", "A", 1)}, time.Now())
	f.meta.Version = SchemaVersion - 1
	if got := Check(ctx, f, NewTracker()); got != ReasonVersionMismatch {
		t.Errorf("Check = %s, want version-mismatch", got)
	}
}

func TestEnsureFreshStartsRebuild(t *testing.T) {
	ctx := context.Background()
	store, b := testBuilder(t)
	testutil.WritePage(t, store, "a", "A", nil, "")
	f, _ := OpenFlat(filepath.Join(t.TempDir(), "pages.json"), testutil.Logger())
	tr := NewTracker()
	r := NewRebuilder(f, b, nil, testutil.Logger())

	if got := EnsureFresh(ctx, f, tr, r, testutil.Logger()); got != ReasonMissing {
		t.Fatalf("EnsureFresh = %s, want missing", got)
	}
	r.Wait()
	if got := EnsureFresh(ctx, f, tr, r, testutil.Logger()); got != ReasonOK {
		t.Errorf("after background rebuild: %s, want ok", got)
	}
}

func TestTrackerIsMonotonic(t *testing.T) {
	tr := NewTracker()
	if tr.Last() != 0 {
		t.Fatal("new tracker must start at zero")
	}
	future := time.Now().Add(time.Hour)
	tr.Seed(future)
	if got := tr.Touch(); got.UnixMilli() != future.UnixMilli() {
		t.Errorf("Touch moved backwards: %v", got)
	}
	tr.Seed(time.Unix(0, 0))
	if tr.Last() != future.UnixMilli() {
		t.Error("Seed must never lower the timestamp")
	}
}
