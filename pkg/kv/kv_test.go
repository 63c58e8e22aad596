package kv

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryTakeIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	hits := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.Take(ctx, "k"); ok {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if hits != 1 {
		t.Fatalf("expected exactly one take, got %d", hits)
	}
}

func TestMemoryScanAndWatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var changes []Change
	cancel := m.Watch(func(c Change) { changes = append(changes, c) })

	_ = m.Set(ctx, "rpc:a", []byte("1"))
	_ = m.Set(ctx, "env", []byte("dev"))
	_ = m.Remove(ctx, "rpc:a", "missing")
	cancel()
	_ = m.Set(ctx, "rpc:b", []byte("2"))

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %+v", changes)
	}
	if !changes[2].Deleted || changes[2].Key != "rpc:a" {
		t.Fatalf("expected delete of rpc:a, got %+v", changes[2])
	}

	got, err := m.Scan(ctx, "rpc:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 1 || string(got["rpc:b"]) != "2" {
		t.Fatalf("unexpected scan result %v", got)
	}
}
