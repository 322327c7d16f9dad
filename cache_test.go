package acfetch

import (
	"net/http"
	"testing"
	"time"
)

func liveEntry(body string) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Body:       []byte(body),
		StatusCode: 200,
		Header:     http.Header{},
		StoredAt:   now,
		ExpiresAt:  now.Add(time.Minute),
		StaleUntil: now.Add(time.Minute),
	}
}

func TestMemoryCacheSetGetDelete(t *testing.T) {
	c := NewMemoryCache()

	c.Set("k", liveEntry("hello"))
	entry, ok := c.Get("k")
	if !ok || string(entry.Body) != "hello" {
		t.Fatalf("Get() = %v, %v", entry, ok)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("deleted entry still present")
	}
}

func TestMemoryCacheDropsExpiredEntries(t *testing.T) {
	c := NewMemoryCache()

	entry := liveEntry("stale")
	entry.ExpiresAt = time.Now().Add(-time.Second)
	entry.StaleUntil = entry.ExpiresAt
	c.Set("k", entry)

	if _, ok := c.Get("k"); ok {
		t.Error("entry past retention still returned")
	}
}

func TestMemoryCacheRetainsServableStale(t *testing.T) {
	c := NewMemoryCache()

	entry := liveEntry("stale-but-servable")
	entry.ExpiresAt = time.Now().Add(-time.Second)
	entry.StaleUntil = time.Now().Add(time.Minute)
	c.Set("k", entry)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("entry within stale grace was dropped")
	}
	if got.Fresh(time.Now()) {
		t.Error("expired entry reported fresh")
	}
	if !got.ServableStale(time.Now()) {
		t.Error("entry within grace not servable stale")
	}
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewLRUCache(2)
	if err != nil {
		t.Fatalf("NewLRUCache() error = %v", err)
	}

	c.Set("a", liveEntry("a"))
	c.Set("b", liveEntry("b"))

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry a missing")
	}

	c.Set("c", liveEntry("c"))

	if _, ok := c.Get("b"); ok {
		t.Error("least-recently-used entry b survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently-used entry a was evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newest entry c missing")
	}
}

func TestLRUCacheRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewLRUCache(0); err == nil {
		t.Error("NewLRUCache(0) did not error")
	}
}

func TestFIFOCacheEvictsOldestWritten(t *testing.T) {
	c, err := NewFIFOCache(2)
	if err != nil {
		t.Fatalf("NewFIFOCache() error = %v", err)
	}

	c.Set("a", liveEntry("a"))
	c.Set("b", liveEntry("b"))

	// Reads must not affect FIFO eviction order.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry a missing")
	}

	c.Set("c", liveEntry("c"))

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry a survived eviction")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("entry b was evicted out of order")
	}
}

func TestFIFOCacheOverwriteKeepsSlot(t *testing.T) {
	c, err := NewFIFOCache(2)
	if err != nil {
		t.Fatalf("NewFIFOCache() error = %v", err)
	}

	c.Set("a", liveEntry("a1"))
	c.Set("b", liveEntry("b"))
	c.Set("a", liveEntry("a2"))
	c.Set("c", liveEntry("c"))

	if _, ok := c.Get("a"); ok {
		t.Error("overwritten entry a kept its original slot but survived eviction")
	}
	entry, ok := c.Get("b")
	if !ok || string(entry.Body) != "b" {
		t.Errorf("entry b = %v, %v", entry, ok)
	}
}

func TestStorageCacheRoundTrip(t *testing.T) {
	c := NewStorageCache(NewMemoryStorage())

	c.Set("k", liveEntry("persisted"))
	entry, ok := c.Get("k")
	if !ok {
		t.Fatal("Get() missed after Set()")
	}
	if string(entry.Body) != "persisted" || entry.StatusCode != 200 {
		t.Errorf("entry = %+v", entry)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("deleted entry still present")
	}
}

func TestStorageCacheSkipsExpired(t *testing.T) {
	c := NewStorageCache(NewMemoryStorage())

	entry := liveEntry("old")
	entry.ExpiresAt = time.Now().Add(-time.Minute)
	entry.StaleUntil = entry.ExpiresAt
	c.Set("k", entry)

	if _, ok := c.Get("k"); ok {
		t.Error("expired entry served from storage cache")
	}
}

func TestCacheEntryToResponseIndependentBodies(t *testing.T) {
	entry := liveEntry("shared")

	r1 := entry.toResponse()
	r2 := entry.toResponse()

	buf := make([]byte, 6)
	n, _ := r1.Body.Read(buf)
	if string(buf[:n]) != "shared" {
		t.Fatalf("first reader got %q", buf[:n])
	}
	n, _ = r2.Body.Read(buf)
	if string(buf[:n]) != "shared" {
		t.Errorf("second reader got %q; readers are not independent", buf[:n])
	}
}
