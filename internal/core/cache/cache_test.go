package cache

import (
	"testing"
	"time"
)

func TestCache(t *testing.T) {
	c := New()

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected lookup of a missing key to fail")
	}

	c.Put("persona:1", []uint32{1, 2}, -1)
	v, ok := c.Get("persona:1")
	if !ok {
		t.Fatal("expected key to be found")
	}
	if ids := v.([]uint32); len(ids) != 2 {
		t.Errorf("expected 2 ids, got %v", ids)
	}

	c.Delete("persona:1")
	if _, ok := c.Get("persona:1"); ok {
		t.Error("expected key to be evicted")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := New()
	c.Put("key", "value", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("key"); ok {
		t.Error("expected key to have expired")
	}
}
