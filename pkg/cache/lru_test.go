package cache

import (
	"testing"
	"time"
)

func TestLRUCachePutGet(t *testing.T) {
	c := NewLRUCache(3, 5*time.Minute)

	c.Put("key1", "value1")
	value, found := c.Get("key1")
	if !found {
		t.Fatal("expected to find key1")
	}
	if value != "value1" {
		t.Errorf("got %v, want value1", value)
	}

	if _, found := c.Get("missing"); found {
		t.Error("missing key should not be found")
	}
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(3, 5*time.Minute)
	c.Put("key1", "value1")
	c.Put("key2", "value2")
	c.Put("key3", "value3")
	c.Put("key4", "value4")

	if _, found := c.Get("key1"); found {
		t.Error("key1 should have been evicted as the least-recently-used entry")
	}
	for _, key := range []string{"key2", "key3", "key4"} {
		if _, found := c.Get(key); !found {
			t.Errorf("%s should still be present", key)
		}
	}
	if c.Size() != 3 {
		t.Errorf("size = %d, want 3", c.Size())
	}
}

func TestLRUCacheGetRefreshesRecency(t *testing.T) {
	c := NewLRUCache(3, 5*time.Minute)
	c.Put("key1", "value1")
	c.Put("key2", "value2")
	c.Put("key3", "value3")

	c.Get("key1") // now most recently used
	c.Put("key4", "value4")

	if _, found := c.Get("key2"); found {
		t.Error("key2 should have been evicted")
	}
	if _, found := c.Get("key1"); !found {
		t.Error("key1 should survive, it was refreshed just before the eviction")
	}
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache(10, 50*time.Millisecond)
	c.Put("key1", "value1")

	if _, found := c.Get("key1"); !found {
		t.Fatal("key1 should exist immediately after Put")
	}
	time.Sleep(100 * time.Millisecond)
	if _, found := c.Get("key1"); found {
		t.Error("key1 should have expired")
	}
}

func TestLRUCachePutOverwritesValue(t *testing.T) {
	c := NewLRUCache(3, 5*time.Minute)
	c.Put("key1", "value1")
	c.Put("key1", "value2")

	value, found := c.Get("key1")
	if !found || value != "value2" {
		t.Errorf("got (%v, %v), want (value2, true)", value, found)
	}
	if c.Size() != 1 {
		t.Errorf("size = %d, want 1", c.Size())
	}
}

func TestLRUCacheClear(t *testing.T) {
	c := NewLRUCache(10, 5*time.Minute)
	c.Put("key1", "value1")
	c.Put("key2", "value2")

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("size after Clear = %d, want 0", c.Size())
	}
	if _, found := c.Get("key1"); found {
		t.Error("key1 should not survive Clear")
	}
}

func TestLRUCacheStats(t *testing.T) {
	c := NewLRUCache(10, 5*time.Minute)
	c.Put("key1", "value1")
	c.Put("key2", "value2")

	c.Get("key1")
	c.Get("key1")
	c.Get("key2")
	c.Get("missing1")
	c.Get("missing2")

	stats := c.Stats()
	if stats.Hits != 3 {
		t.Errorf("hits = %d, want 3", stats.Hits)
	}
	if stats.Misses != 2 {
		t.Errorf("misses = %d, want 2", stats.Misses)
	}
}

func TestLRUCacheSweepRemovesExpired(t *testing.T) {
	c := NewLRUCache(10, 50*time.Millisecond)
	c.Put("key1", "value1")
	c.Put("key2", "value2")
	time.Sleep(100 * time.Millisecond)
	c.Put("key3", "value3")

	removed := c.Sweep()
	if removed != 2 {
		t.Errorf("swept %d entries, want 2", removed)
	}
	if _, found := c.Get("key3"); !found {
		t.Error("key3 should survive the sweep")
	}
}

func TestGenerateKeyIsDeterministicAndDiscriminating(t *testing.T) {
	filter := map[string]interface{}{"age": 25}
	sort := []interface{}{"name"}

	k1 := GenerateKey(filter, sort, 0, 10, nil)
	k2 := GenerateKey(filter, sort, 0, 10, nil)
	if k1 != k2 {
		t.Error("identical inputs should produce identical keys")
	}

	if k3 := GenerateKey(map[string]interface{}{"age": 30}, sort, 0, 10, nil); k3 == k1 {
		t.Error("different filters should produce different keys")
	}
	if k4 := GenerateKey(filter, sort, 10, 20, nil); k4 == k1 {
		t.Error("different skip/limit should produce different keys")
	}
}

func TestLRUCacheConcurrentAccess(t *testing.T) {
	c := NewLRUCache(100, 5*time.Minute)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				key := string(rune('a' + (id+j)%26))
				c.Put(key, id*100+j)
				c.Get(key)
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	c.Put("probe", "value")
	if _, found := c.Get("probe"); !found {
		t.Error("cache should remain usable after concurrent access")
	}
}

func BenchmarkLRUCachePut(b *testing.B) {
	c := NewLRUCache(1000, 5*time.Minute)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(string(rune(i%1000)), i)
	}
}

func BenchmarkLRUCacheGet(b *testing.B) {
	c := NewLRUCache(1000, 5*time.Minute)
	for i := 0; i < 1000; i++ {
		c.Put(string(rune(i)), i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(string(rune(i % 1000)))
	}
}

func BenchmarkGenerateKey(b *testing.B) {
	filter := map[string]interface{}{"age": 25, "city": "NYC", "name": "Alice"}
	sort := []interface{}{"name", "age"}
	projection := map[string]bool{"name": true, "age": true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GenerateKey(filter, sort, 0, 10, projection)
	}
}
