// Package keylock provides a per-key mutex with FIFO hand-off.
package keylock

import "sync"

type entry struct {
	waiters []chan struct{}
}

// Map serializes holders of the same key while leaving distinct keys fully
// concurrent. Entries exist only while a key is held or awaited.
//
// The zero value is ready to use.
type Map struct {
	mu   sync.Mutex
	keys map[string]*entry
}

// Lock blocks until the caller owns key and returns the function that
// releases it. Waiters are granted the key in the order they called Lock.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.keys == nil {
		m.keys = make(map[string]*entry)
	}
	e, held := m.keys[key]
	if !held {
		m.keys[key] = &entry{}
		m.mu.Unlock()
		return m.releaser(key)
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	m.mu.Unlock()

	<-ch
	return m.releaser(key)
}

func (m *Map) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(key) })
	}
}

// release hands ownership to the oldest waiter, or forgets the key when
// nobody is queued.
func (m *Map) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.keys[key]
	if e == nil {
		return
	}
	if len(e.waiters) == 0 {
		delete(m.keys, key)
		return
	}
	next := e.waiters[0]
	e.waiters[0] = nil
	e.waiters = e.waiters[1:]
	close(next)
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
