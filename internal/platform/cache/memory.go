package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/quantrail/marketsizer/internal/platform/observability"
)

// MemoryCache is the in-process backend: a map of key to entry with lazy
// TTL expiry, optionally backed by a DiskStore so entries survive restarts.
// There is no capacity bound; expiry is time-based only.
type MemoryCache struct {
	mu      sync.RWMutex
	items   map[string]*Entry
	disk    *DiskStore
	logger  *observability.Logger
	stopCh  chan struct{}
	stopped sync.Once

	hits          int64
	misses        int64
	lastRefreshed time.Time

	now func() time.Time
}

// MemoryCacheConfig configures the in-process backend.
type MemoryCacheConfig struct {
	// PersistDir enables disk persistence when non-empty.
	PersistDir string

	// CleanupInterval is how often the janitor sweeps expired entries.
	// Zero disables active sweeping; expiry then happens lazily on Get.
	CleanupInterval time.Duration

	Logger *observability.Logger
}

// NewMemoryCache creates the in-process backend and, when persistence is
// enabled, makes previously persisted entries reachable again.
func NewMemoryCache(cfg MemoryCacheConfig) (*MemoryCache, error) {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("info", "json")
	}

	c := &MemoryCache{
		items:  make(map[string]*Entry),
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}

	if cfg.PersistDir != "" {
		disk, err := NewDiskStore(cfg.PersistDir, cfg.Logger)
		if err != nil {
			return nil, err
		}
		c.disk = disk
	}

	if cfg.CleanupInterval > 0 {
		go c.janitor(cfg.CleanupInterval)
	}

	return c, nil
}

// Get returns the live value for key. An expired in-memory entry is evicted
// from memory and disk; the disk store is then consulted as a second chance,
// promoting a live persisted entry back into memory.
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	entry, err := c.GetEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// GetEntry returns the live entry for key, or ErrNotFound.
func (c *MemoryCache) GetEntry(_ context.Context, key string) (*Entry, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		if !entry.Expired(now) {
			c.hits++
			return entry, nil
		}
		delete(c.items, key)
		if c.disk != nil {
			c.disk.Remove(key)
		}
	}

	if c.disk != nil {
		if entry, err := c.disk.Load(key); err == nil {
			if !entry.Expired(now) {
				// Promote the persisted entry back into memory
				c.items[key] = entry
				c.hits++
				return entry, nil
			}
			c.disk.Remove(key)
		}
	}

	c.misses++
	return nil, ErrNotFound
}

// Set stores value in memory and then durably on disk. The memory write is
// authoritative for reads; persistence is best-effort.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	entry := &Entry{
		Data:      value,
		Timestamp: c.now(),
		TTL:       ttl,
	}

	c.mu.Lock()
	c.items[key] = entry
	c.lastRefreshed = entry.Timestamp
	c.mu.Unlock()

	if c.disk != nil {
		c.disk.Save(key, entry)
	}

	return nil
}

// Delete removes key from memory and disk.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()

	if c.disk != nil {
		c.disk.Remove(key)
	}

	return nil
}

// DeleteAll removes every entry from memory and disk.
func (c *MemoryCache) DeleteAll(_ context.Context) error {
	c.mu.Lock()
	c.items = make(map[string]*Entry)
	c.mu.Unlock()

	if c.disk != nil {
		c.disk.RemoveAll()
	}

	return nil
}

// Exists reports whether a live entry is stored under key.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	return ok && !entry.Expired(c.now()), nil
}

// Expire resets the TTL of an existing key, restarting its lifetime now.
func (c *MemoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok || entry.Expired(c.now()) {
		return ErrNotFound
	}

	entry.Timestamp = c.now()
	entry.TTL = ttl
	if c.disk != nil {
		c.disk.Save(key, entry)
	}
	return nil
}

// KeysByPattern returns all live keys matching the glob pattern.
func (c *MemoryCache) KeysByPattern(_ context.Context, pattern string) ([]string, error) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []string
	for key, entry := range c.items {
		if entry.Expired(now) {
			continue
		}
		if ok, err := path.Match(pattern, key); err != nil {
			return nil, err
		} else if ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// DeleteByPattern removes all keys matching the glob pattern.
func (c *MemoryCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.KeysByPattern(ctx, pattern)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	for _, key := range keys {
		delete(c.items, key)
	}
	c.mu.Unlock()

	if c.disk != nil {
		for _, key := range keys {
			c.disk.Remove(key)
		}
	}

	return len(keys), nil
}

// Stats returns a snapshot of the backend's counters.
func (c *MemoryCache) Stats(_ context.Context) Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Statistics{
		Hits:          c.hits,
		Misses:        c.misses,
		Size:          len(c.items),
		LastRefreshed: c.lastRefreshed,
	}
}

// Close stops the janitor. The in-memory map is dropped with the instance.
func (c *MemoryCache) Close() error {
	c.stopped.Do(func() {
		close(c.stopCh)
	})
	return nil
}

// janitor periodically sweeps expired entries from memory and disk.
func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep removes all expired entries.
func (c *MemoryCache) sweep() {
	now := c.now()

	c.mu.Lock()
	var expired []string
	for key, entry := range c.items {
		if entry.Expired(now) {
			expired = append(expired, key)
			delete(c.items, key)
		}
	}
	c.mu.Unlock()

	if c.disk != nil {
		for _, key := range expired {
			c.disk.Remove(key)
		}
	}
}
