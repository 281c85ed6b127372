package cache

import (
	"testing"
	"time"
)

func TestLRUCacheGetSet(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	c.Set("a", 1)
	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get(a) = %d, %v", got, ok)
	}

	c.Set("a", 2)
	got, _ = c.Get("a")
	if got != 2 {
		t.Fatalf("overwrite lost: got %d", got)
	}
}

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" is the eviction candidate.
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should have survived")
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}
}

func TestLRUCacheTTL(t *testing.T) {
	c := NewLRUCache[int](10, 10*time.Millisecond)
	c.Set("a", 1)

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry still counted, size = %d", c.Size())
	}
}

func TestLRUCacheDeletePrefix(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)
	c.Set("1:2026-08", "a")
	c.Set("1:2026-09", "b")
	c.Set("12:2026-08", "c")

	if n := c.DeletePrefix("1:"); n != 2 {
		t.Fatalf("DeletePrefix removed %d entries, want 2", n)
	}
	if _, ok := c.Get("1:2026-08"); ok {
		t.Fatal("prefixed entry survived")
	}
	// "12:" does not match the "1:" prefix.
	if _, ok := c.Get("12:2026-08"); !ok {
		t.Fatal("unrelated entry was removed")
	}
}

func TestCleanExpired(t *testing.T) {
	c := NewLRUCache[int](10, 10*time.Millisecond)
	c.Set("a", 1)
	c.Set("b", 2)

	time.Sleep(20 * time.Millisecond)
	c.Set("fresh", 3)

	if n := c.CleanExpired(); n != 2 {
		t.Fatalf("CleanExpired removed %d, want 2", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("fresh entry removed by sweep")
	}
}

func TestManagerSweep(t *testing.T) {
	c := NewLRUCache[int](10, time.Millisecond)
	m := NewManager()
	m.Register(c)

	c.Set("a", 1)
	m.StartCleanup(5 * time.Millisecond)

	deadline := time.After(time.Second)
	for c.Size() > 0 {
		select {
		case <-deadline:
			t.Fatal("sweep never removed expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()
}
