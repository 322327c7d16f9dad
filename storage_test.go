package acfetch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStorageSetGet(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", value, ok, err)
	}
	if string(value) != "v" {
		t.Errorf("value = %q, want %q", value, "v")
	}

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Error("Get(missing) reported a hit")
	}
}

func TestMemoryStorageTTLExpiry(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("entry expired before its TTL")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestMemoryStorageIncrement(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Increment(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if got != want {
			t.Errorf("Increment() = %d, want %d", got, want)
		}
	}
}

func TestMemoryStorageIncrementWindowRestart(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	if _, err := s.Increment(ctx, "counter", 20*time.Millisecond); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	got, err := s.Increment(ctx, "counter", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if got != 1 {
		t.Errorf("counter after window restart = %d, want 1", got)
	}
}

func TestMemoryStorageIncrementConcurrent(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := s.Increment(ctx, "counter", time.Minute); err != nil {
				t.Errorf("Increment() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Increment(ctx, "counter", time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if got != workers+1 {
		t.Errorf("counter = %d, want %d", got, workers+1)
	}
}

func TestMemoryStorageDeleteAndClear(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("2"), 0)

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("deleted key still present")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Error("cleared key still present")
	}
}

func TestNamespacedStorageIsolation(t *testing.T) {
	backend := NewMemoryStorage()
	ctx := context.Background()

	a := NewNamespacedStorage("cache", backend)
	b := NewNamespacedStorage("ratelimit", backend)

	if err := a.Set(ctx, "k", []byte("from-a"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := b.Set(ctx, "k", []byte("from-b"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, _ := a.Get(ctx, "k")
	if !ok || string(got) != "from-a" {
		t.Errorf("namespace a value = %q, %v; want from-a", got, ok)
	}
	got, ok, _ = b.Get(ctx, "k")
	if !ok || string(got) != "from-b" {
		t.Errorf("namespace b value = %q, %v; want from-b", got, ok)
	}
}
