package dtml

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// CacheConfig contains configuration options for the template cache
type CacheConfig struct {
	// MaxSize is the maximum number of templates to cache. 0 disables caching.
	MaxSize int
	// TTL is the time-to-live for cached templates. 0 means no expiration.
	TTL time.Duration
}

// TemplateCache keeps compiled file templates by key, evicting the least
// recently used entry when full. It is safe for concurrent use.
type TemplateCache struct {
	mu     sync.RWMutex
	cache  map[string]*cacheEntry
	lru    *list.List
	config CacheConfig
}

type cacheEntry struct {
	key      string
	template *Template
	expiry   time.Time
	element  *list.Element
}

// NewTemplateCache creates a template cache sized from the global configuration
func NewTemplateCache() *TemplateCache {
	config := GetGlobalConfig()
	return NewTemplateCacheWithConfig(CacheConfig{
		MaxSize: config.CacheMaxSize,
		TTL:     config.CacheTTL,
	})
}

// NewTemplateCacheWithConfig creates a new template cache with the given configuration
func NewTemplateCacheWithConfig(config CacheConfig) *TemplateCache {
	return &TemplateCache{
		cache:  make(map[string]*cacheEntry),
		lru:    list.New(),
		config: config,
	}
}

// Prepare returns the cached template for key, or loads, caches and
// returns a new one. With caching disabled load is always called.
func (tc *TemplateCache) Prepare(key string, load func() (*Template, error)) (*Template, error) {
	if tmpl, ok := tc.Get(key); ok {
		return tmpl, nil
	}
	if load == nil {
		return nil, errors.New("template not in cache and no loader provided")
	}

	tmpl, err := load()
	if err != nil {
		return nil, err
	}
	tc.Set(key, tmpl)
	return tmpl, nil
}

// Get retrieves a template from cache without loading a new one
func (tc *TemplateCache) Get(key string) (*Template, bool) {
	if tc.config.MaxSize == 0 {
		return nil, false
	}

	tc.mu.RLock()
	entry, exists := tc.cache[key]
	tc.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if tc.config.TTL > 0 && time.Now().After(entry.expiry) {
		WithField("key", key).Debug("Template cache entry expired")
		tc.Remove(key)
		return nil, false
	}

	tc.mu.Lock()
	if entry.element != nil {
		tc.lru.MoveToFront(entry.element)
	}
	tc.mu.Unlock()

	return entry.template, true
}

// Set adds a template to the cache
func (tc *TemplateCache) Set(key string, template *Template) {
	if tc.config.MaxSize == 0 {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	expiry := time.Time{}
	if tc.config.TTL > 0 {
		expiry = time.Now().Add(tc.config.TTL)
	}

	if existing, exists := tc.cache[key]; exists {
		existing.template = template
		existing.expiry = expiry
		tc.lru.MoveToFront(existing.element)
		return
	}

	if tc.lru.Len() >= tc.config.MaxSize {
		if oldest := tc.lru.Back(); oldest != nil {
			oldEntry := oldest.Value.(*cacheEntry)
			WithField("key", oldEntry.key).Debug("Evicting template from cache")
			delete(tc.cache, oldEntry.key)
			tc.lru.Remove(oldest)
		}
	}

	entry := &cacheEntry{
		key:      key,
		template: template,
		expiry:   expiry,
	}
	entry.element = tc.lru.PushFront(entry)
	tc.cache[key] = entry
}

// Remove removes a template from the cache
func (tc *TemplateCache) Remove(key string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	entry, exists := tc.cache[key]
	if !exists {
		return
	}
	delete(tc.cache, key)
	tc.lru.Remove(entry.element)
}

// Clear removes all templates from the cache
func (tc *TemplateCache) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.cache = make(map[string]*cacheEntry)
	tc.lru = list.New()
}

// Size returns the current number of cached templates
func (tc *TemplateCache) Size() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.cache)
}

// defaultCache is the cache of the default engine
var defaultCache = NewTemplateCache()
