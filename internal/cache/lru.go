package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/objectfs/vaultstore/pkg/errors"
	"github.com/objectfs/vaultstore/pkg/types"
)

// Manager is a capacity and TTL bounded LRU byte cache keyed by file identifier.
// A single mutex serializes every operation.
type Manager struct {
	mu        sync.Mutex
	items     map[string]*cacheItem
	evictList *list.List

	config     *Config
	compressor Compressor

	// owned is the compressor New created, released by Close.
	owned     *ZstdCompressor
	closeOnce sync.Once
	logger    *zap.Logger

	// Statistics
	stats types.CacheStats
}

// Config represents cache configuration
type Config struct {
	// Capacity is the maximum number of entries.
	Capacity int
	// TTL is measured from insertion; zero disables expiry.
	TTL time.Duration

	// Compressor defaults to zstd.
	Compressor Compressor
	Logger     *zap.Logger
	Now        func() time.Time
}

// cacheItem represents an item in the cache
type cacheItem struct {
	key         string
	data        []byte
	compressed  bool
	timestamp   time.Time
	accessTime  time.Time
	accessCount int64
	element     *list.Element
}

// New creates a cache manager.
func New(config *Config) (*Manager, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Capacity <= 0 {
		config.Capacity = 1000
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	var owned *ZstdCompressor
	compressor := config.Compressor
	if compressor == nil {
		z, err := NewZstdCompressor()
		if err != nil {
			return nil, err
		}
		compressor = z
		owned = z
	}

	return &Manager{
		items:      make(map[string]*cacheItem),
		evictList:  list.New(),
		config:     config,
		compressor: compressor,
		owned:      owned,
		logger:     config.Logger,
		stats: types.CacheStats{
			Capacity: config.Capacity,
		},
	}, nil
}

// Get returns the bytes cached for key. Absent, expired and undecodable entries are
// reported as a miss; the latter two are evicted.
func (c *Manager) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.recordMiss()
		return nil, false
	}

	now := c.config.Now()
	if c.isExpired(item, now) {
		c.removeItem(item)
		c.stats.Evictions++
		c.recordMiss()
		return nil, false
	}

	var data []byte
	if item.compressed {
		out, err := c.compressor.Decompress(item.data)
		if err != nil {
			c.logger.Warn("Evicting undecodable cache entry",
				zap.String("key", key), zap.Error(err))
			c.removeItem(item)
			c.stats.Evictions++
			c.recordMiss()
			return nil, false
		}
		data = out
	} else {
		data = append([]byte(nil), item.data...)
	}

	item.accessTime = now
	item.accessCount++
	c.evictList.MoveToFront(item.element)

	c.stats.Hits++
	c.updateHitRate()
	return data, true
}

// Put stores value under key, compressing it first when compress is set. An existing
// entry for key is replaced without evicting anything else; otherwise a full cache evicts
// its least recently used entry. A compression failure leaves the cache unchanged.
func (c *Manager) Put(key string, value []byte, compress bool) error {
	stored := append([]byte(nil), value...)
	if compress {
		out, err := c.compressor.Compress(value)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeCompressionFailed, "failed to compress cache entry").
				WithComponent("cache").
				WithOperation("put").
				WithContext("key", key)
		}
		stored = out
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		c.removeItem(item)
	} else if len(c.items) >= c.config.Capacity {
		c.evictOldest()
	}

	now := c.config.Now()
	item := &cacheItem{
		key:         key,
		data:        stored,
		compressed:  compress,
		timestamp:   now,
		accessTime:  now,
		accessCount: 0,
	}
	item.element = c.evictList.PushFront(item)
	c.items[key] = item
	return nil
}

// Delete removes key from the cache.
func (c *Manager) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		c.removeItem(item)
	}
}

// Clear clears all items from the cache
func (c *Manager) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Evictions += uint64(len(c.items))
	c.items = make(map[string]*cacheItem)
	c.evictList.Init()
}

// Close drops every entry and releases the default compressor. A compressor supplied
// through Config belongs to the caller. The manager must not be used afterwards.
func (c *Manager) Close() {
	c.Clear()
	c.closeOnce.Do(func() {
		if c.owned != nil {
			c.owned.Close()
		}
	})
}

// Len returns the number of entries, including expired ones not yet observed.
func (c *Manager) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics
func (c *Manager) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	return stats
}

// Keys returns cache keys from most to least recently used.
func (c *Manager) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for e := c.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheItem).key)
	}
	return keys
}

// Helper methods

func (c *Manager) isExpired(item *cacheItem, now time.Time) bool {
	if c.config.TTL == 0 {
		return false
	}
	return now.Sub(item.timestamp) > c.config.TTL
}

func (c *Manager) removeItem(item *cacheItem) {
	c.evictList.Remove(item.element)
	delete(c.items, item.key)
}

func (c *Manager) evictOldest() {
	element := c.evictList.Back()
	if element == nil {
		return
	}
	c.removeItem(element.Value.(*cacheItem))
	c.stats.Evictions++
}

func (c *Manager) recordMiss() {
	c.stats.Misses++
	c.updateHitRate()
}

func (c *Manager) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
