package keylock

import (
	"sync"
	"testing"
	"time"
)

func TestLock_FIFOOrder(t *testing.T) {
	var m Map
	unlock := m.Lock("page")

	const n = 20
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := m.Lock("page")
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			u()
		}(i)
		// Give goroutine i time to enqueue before i+1.
		waitForWaiters(t, &m, "page", i+1)
	}

	unlock()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", m.Len())
	}
}

func TestLock_DistinctKeysDoNotBlock(t *testing.T) {
	var m Map
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		u := m.Lock("b")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on distinct key blocked")
	}
}

func TestUnlock_Idempotent(t *testing.T) {
	var m Map
	u := m.Lock("k")
	u()
	u()
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
	u2 := m.Lock("k")
	u2()
}

func waitForWaiters(t *testing.T, m *Map, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		e := m.keys[key]
		got := 0
		if e != nil {
			got = len(e.waiters)
		}
		m.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d waiters", n)
}
