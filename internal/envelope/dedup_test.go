package envelope

import "testing"

func TestDedupCacheSeen(t *testing.T) {
	c := NewDedupCache(2)

	if c.Seen("a") {
		t.Fatal("first Seen(a) should be false")
	}
	if !c.Seen("a") {
		t.Fatal("second Seen(a) should be true")
	}
}

func TestDedupCacheEviction(t *testing.T) {
	c := NewDedupCache(2)
	c.Seen("a")
	c.Seen("b")
	c.Seen("c") // evicts "a" (least recently used)

	if !c.Seen("b") {
		t.Fatal("b should still be cached")
	}
	if c.Seen("a") {
		t.Fatal("a should have been evicted, Seen(a) should be false")
	}
	if c.Len() > 2 {
		t.Fatalf("Len() = %d, want <= 2", c.Len())
	}
}

func TestDedupCacheRecencyRefresh(t *testing.T) {
	c := NewDedupCache(2)
	c.Seen("a")
	c.Seen("b")
	c.Seen("a") // refresh a's recency
	c.Seen("c") // should evict b, not a

	if !c.Seen("a") {
		t.Fatal("a should still be cached after refresh")
	}
	if c.Seen("b") {
		t.Fatal("b should have been evicted")
	}
}
