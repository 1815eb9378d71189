package index

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/starford/pagestore/internal/testutil"
)

type changeLog struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *changeLog) record(slugs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range slugs {
		c.seen[s]++
	}
}

func (c *changeLog) has(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[s] > 0
}

func startWatcher(t *testing.T, root string) *changeLog {
	t.Helper()
	log := &changeLog{seen: make(map[string]int)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, root, testutil.Logger(), log.record)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
	return log
}

func TestWatchReportsStoreWrites(t *testing.T) {
	root, store := testutil.TestStore(t)
	testutil.WritePage(t, store, "existing", "Existing", nil, "")
	log := startWatcher(t, root)

	testutil.WritePage(t, store, "existing", "Existing v2", nil, "")
	testutil.WritePage(t, store, "fresh", "Fresh", nil, "")

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return log.has("existing") && log.has("fresh")
	}, "watcher did not report both slugs")
}

func TestWatchReportsDeletes(t *testing.T) {
	root, store := testutil.TestStore(t)
	testutil.WritePage(t, store, "gone", "Gone", nil, "")
	log := startWatcher(t, root)

	if err := store.Delete("gone"); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return log.has("gone")
	}, "watcher did not report the deletion")
}

func TestWatchIgnoresTempAndSidecarFiles(t *testing.T) {
	root, _ := testutil.TestStore(t)
	log := startWatcher(t, root)

	_ = os.WriteFile(filepath.Join(root, "note.md.1234.tmp"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "note.md.sig"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "Not_A_Slug.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "marker.md"), []byte("x"), 0o644)

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return log.has("marker")
	}, "watcher missed the marker document")

	log.mu.Lock()
	defer log.mu.Unlock()
	keys := make([]string, 0, len(log.seen))
	for k := range log.seen {
		keys = append(keys, k)
	}
	if !slices.Equal(keys, []string{"marker"}) {
		t.Errorf("reported slugs = %v, want only marker", keys)
	}
}

func TestWatchPicksUpNewShardDirs(t *testing.T) {
	root, _ := testutil.TestStore(t)
	log := startWatcher(t, root)

	dir := filepath.Join(root, "zz")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(dir, "zz-top.md"), []byte("x"), 0o644)

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return log.has("zz-top")
	}, "watcher missed a document in a new shard directory")
}
