package dtml

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTemplateCacheGetSet(t *testing.T) {
	cache := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 10})
	tmpl := NewHTML("x")

	if _, ok := cache.Get("a"); ok {
		t.Fatal("empty cache returned a template")
	}
	cache.Set("a", tmpl)
	got, ok := cache.Get("a")
	if !ok || got != tmpl {
		t.Errorf("Get(a) = %v, %v", got, ok)
	}
	if cache.Size() != 1 {
		t.Errorf("Size = %d, want 1", cache.Size())
	}

	replacement := NewHTML("y")
	cache.Set("a", replacement)
	if got, _ := cache.Get("a"); got != replacement {
		t.Error("Set did not replace the entry")
	}

	cache.Remove("a")
	cache.Remove("never-added")
	if cache.Size() != 0 {
		t.Errorf("Size after Remove = %d", cache.Size())
	}
}

func TestTemplateCachePrepare(t *testing.T) {
	cache := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 10})
	loads := 0
	load := func() (*Template, error) {
		loads++
		return NewHTML("x"), nil
	}

	first, err := cache.Prepare("k", load)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	second, err := cache.Prepare("k", nil)
	if err != nil {
		t.Fatalf("Prepare from cache: %v", err)
	}
	if first != second || loads != 1 {
		t.Errorf("Prepare loaded %d times", loads)
	}

	if _, err := cache.Prepare("other", nil); err == nil {
		t.Error("Prepare without a loader succeeded")
	}

	failing := errors.New("boom")
	if _, err := cache.Prepare("bad", func() (*Template, error) { return nil, failing }); !errors.Is(err, failing) {
		t.Errorf("Prepare error = %v", err)
	}
	if _, ok := cache.Get("bad"); ok {
		t.Error("a failed load was cached")
	}
}

func TestTemplateCacheEviction(t *testing.T) {
	cache := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 2})
	cache.Set("a", NewHTML("a"))
	cache.Set("b", NewHTML("b"))
	cache.Get("a")
	cache.Set("c", NewHTML("c"))

	if _, ok := cache.Get("b"); ok {
		t.Error("least recently used entry was kept")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := cache.Get(key); !ok {
			t.Errorf("%s was evicted", key)
		}
	}
}

func TestTemplateCacheTTL(t *testing.T) {
	cache := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 10, TTL: 20 * time.Millisecond})
	cache.Set("a", NewHTML("a"))

	if _, ok := cache.Get("a"); !ok {
		t.Fatal("entry expired immediately")
	}
	time.Sleep(40 * time.Millisecond)
	if _, ok := cache.Get("a"); ok {
		t.Error("entry did not expire")
	}
	if cache.Size() != 0 {
		t.Errorf("expired entry was not removed, Size = %d", cache.Size())
	}
}

func TestTemplateCacheDisabled(t *testing.T) {
	cache := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 0})
	loads := 0
	for i := 0; i < 3; i++ {
		if _, err := cache.Prepare("k", func() (*Template, error) {
			loads++
			return NewHTML("x"), nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	if loads != 3 || cache.Size() != 0 {
		t.Errorf("disabled cache loaded %d times and holds %d", loads, cache.Size())
	}
}

func TestTemplateCacheConcurrent(t *testing.T) {
	cache := NewTemplateCacheWithConfig(CacheConfig{MaxSize: 5})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%8)
			if _, err := cache.Prepare(key, func() (*Template, error) { return NewHTML(key), nil }); err != nil {
				t.Error(err)
			}
			if i%5 == 0 {
				cache.Clear()
			}
		}(i)
	}
	wg.Wait()
	if cache.Size() > 5 {
		t.Errorf("Size = %d exceeds the maximum", cache.Size())
	}
}
