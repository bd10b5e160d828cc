package cache

import (
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, time.Minute)
	if got, ok := c.Get("a"); !ok || got != 1 {
		t.Fatalf("expected hit with 1, got %d %v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("a", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestTTLCacheZeroTTLNeverExpires(t *testing.T) {
	c := NewTTLCache[string, string]()

	c.Set("a", "v", 0)
	if got, ok := c.Get("a"); !ok || got != "v" {
		t.Fatalf("expected persistent entry, got %q %v", got, ok)
	}
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int]()

	c.Set("a", 1, time.Minute)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected deleted entry to miss")
	}
}

func TestNoopCache(t *testing.T) {
	var c NoopCache[string, int]

	c.Set("a", 1, time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected noop cache to always miss")
	}
}
