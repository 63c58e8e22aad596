// Package kv is the persistent key/value primitive shared by the relay
// contexts: get, set, remove, prefix scan, atomic take, and change
// notification.
package kv

import (
	"context"
	"strings"
	"sync"
)

// Change describes one key written or removed.
type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}

// Store is implemented by Memory and sqlite.Store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes keys; absent keys are not an error.
	Remove(ctx context.Context, keys ...string) error
	// Take reads and deletes key in one step so at most one caller gets it.
	Take(ctx context.Context, key string) ([]byte, bool, error)
	// Scan returns every entry whose key starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
	// Watch registers fn for changes made after it returns.
	Watch(fn func(Change)) (cancel func())
}

// Watchers fans changes out to registered callbacks. Callbacks run on the
// writer's goroutine after the write is visible.
type Watchers struct {
	mu   sync.Mutex
	fns  map[uint64]func(Change)
	next uint64
}

// Add registers fn.
func (w *Watchers) Add(fn func(Change)) func() {
	w.mu.Lock()
	if w.fns == nil {
		w.fns = make(map[uint64]func(Change))
	}
	w.next++
	id := w.next
	w.fns[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

// Notify delivers changes to every watcher.
func (w *Watchers) Notify(changes ...Change) {
	w.mu.Lock()
	fns := make([]func(Change), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers Watchers
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return clone(v), ok, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = clone(value)
	m.mu.Unlock()
	m.watchers.Notify(Change{Key: key, Value: clone(value)})
	return nil
}

func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var changes []Change
	m.mu.Lock()
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			delete(m.data, key)
			changes = append(changes, Change{Key: key, Deleted: true})
		}
	}
	m.mu.Unlock()
	m.watchers.Notify(changes...)
	return nil
}

func (m *Memory) Take(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	v, ok := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()
	if ok {
		m.watchers.Notify(Change{Key: key, Deleted: true})
	}
	return v, ok, nil
}

func (m *Memory) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = clone(v)
		}
	}
	return out, nil
}

func (m *Memory) Watch(fn func(Change)) func() {
	return m.watchers.Add(fn)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

var _ Store = (*Memory)(nil)
