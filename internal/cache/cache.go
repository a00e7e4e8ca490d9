package cache

import (
	"path"
	"sort"
	"sync"
	"time"
)

// Config holds configuration for a Cache.
type Config struct {
	DefaultTTL      time.Duration // used when Set is given ttl <= 0
	MaxEntries      int           // least recently accessed entries are evicted above this
	CleanupInterval time.Duration // how often expired entries are swept; 0 disables the sweeper
}

// DefaultConfig provides sensible defaults for API response caching.
var DefaultConfig = Config{
	DefaultTTL:      5 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: time.Minute,
}

type entry struct {
	value      any
	tags       []string
	expiresAt  time.Time
	accessedAt time.Time
}

// Cache is an in-process TTL key/value cache with tag and glob
// invalidation. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	byTag   map[string]map[string]struct{}

	cfg  Config
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// New creates a Cache and starts its cleanup goroutine when
// cfg.CleanupInterval > 0. Call Close to stop it.
func New(cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig.DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig.MaxEntries
	}
	c := &Cache{
		entries: make(map[string]*entry),
		byTag:   make(map[string]map[string]struct{}),
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Get returns a live value for key.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(e.expiresAt) {
		c.removeLocked(key)
		return nil, false
	}
	e.accessedAt = now
	return e.value, true
}

// Set stores value under key for ttl and associates it with tags.
func (c *Cache) Set(key string, value any, ttl time.Duration, tags ...string) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	c.entries[key] = &entry{
		value:      value,
		tags:       append([]string(nil), tags...),
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}
	for _, t := range tags {
		keys, ok := c.byTag[t]
		if !ok {
			keys = make(map[string]struct{})
			c.byTag[t] = keys
		}
		keys[key] = struct{}{}
	}

	if len(c.entries) > c.cfg.MaxEntries {
		c.cleanupLocked()
	}
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	c.removeLocked(key)
	c.mu.Unlock()
}

// DeletePattern removes every key matching a path.Match glob such as
// "events:*" and returns how many were removed.
func (c *Cache) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			c.removeLocked(key)
			n++
		}
	}
	return n
}

// InvalidateTag removes every key stored with tag.
func (c *Cache) InvalidateTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byTag[tag]
	n := 0
	for key := range keys {
		if _, ok := c.entries[key]; ok {
			c.removeLocked(key)
			n++
		}
	}
	delete(c.byTag, tag)
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine and clears the cache.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.byTag = make(map[string]map[string]struct{})
	c.mu.Unlock()
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, t := range e.tags {
		if keys, ok := c.byTag[t]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byTag, t)
			}
		}
	}
}

// cleanupLocked drops expired entries, then the least recently accessed
// ones until the cache is within MaxEntries.
func (c *Cache) cleanupLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(key)
		}
	}

	over := len(c.entries) - c.cfg.MaxEntries
	if over <= 0 {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].accessedAt.Before(c.entries[keys[j]].accessedAt)
	})
	for _, key := range keys[:over] {
		c.removeLocked(key)
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.cleanupLocked()
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}
