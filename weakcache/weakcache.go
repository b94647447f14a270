// Package weakcache provides a generic identity cache with weak retention.
//
// The cache returns the existing value for a key as long as that value is
// still alive, and otherwise builds a new one. Entries hold their value
// strongly until FlushUnused demotes them to weak references; a later Get
// re-promotes a surviving value, and entries whose value was collected are
// dropped. This gives every key a single canonical value without pinning
// unused values in memory forever.
//
// The package follows go-kit conventions:
// - Uses logger.Logger interface for unified logging
// - Configuration with validation and defaults
// - Structured error handling
package weakcache

import (
	"sync"
	"weak"

	"github.com/restkit/restkit/logger"
	"go.uber.org/zap"
)

// Cache is an identity cache for values of type *V keyed by K.
// All methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	log        logger.Logger
	name       string
	mu         sync.Mutex
	countLimit int
	entries    map[K]*entry[V]
}

// entry holds one cached value. While strong is non-nil the value cannot be
// collected; after a flush only the weak pointer remains.
type entry[V any] struct {
	strong *V
	weak   weak.Pointer[V]
}

// New creates a new Cache with the given logger and configuration.
// A nil logger falls back to logger.Nop(), a nil config to defaults.
func New[K comparable, V any](log logger.Logger, cfg *Config) (*Cache[K, V], error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		defaults := DefaultConfig()
		if cfg.Name == "" {
			cfg.Name = defaults.Name
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Cache[K, V]{
		log:        log,
		name:       cfg.Name,
		countLimit: cfg.CountLimit,
		entries:    make(map[K]*entry[V]),
	}, nil
}

// Get returns the live value for key if one exists, and otherwise calls
// onMiss exactly once, stores the result, and returns it.
//
// onMiss runs without the cache lock held, so its construction logic may
// re-enter the cache. If a concurrent Get for the same key wins the race,
// the value that was stored first is returned and the loser's construction
// is discarded, preserving identity.
func (c *Cache[K, V]) Get(key K, onMiss func() *V) *V {
	c.mu.Lock()
	if v := c.liveValueLocked(key); v != nil {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	built := onMiss()
	if built == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have inserted while onMiss ran.
	if v := c.liveValueLocked(key); v != nil {
		return v
	}

	if c.countLimit > 0 && len(c.entries)+1 >= c.countLimit {
		c.flushUnusedLocked()
	}
	c.entries[key] = &entry[V]{strong: built, weak: weak.Make(built)}
	return built
}

// liveValueLocked returns the value for key if it is still alive,
// re-promoting a weak-only entry to a strong hold. Dead entries are removed.
func (c *Cache[K, V]) liveValueLocked(key K) *V {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if e.strong != nil {
		return e.strong
	}
	if v := e.weak.Value(); v != nil {
		e.strong = v
		return v
	}
	delete(c.entries, key)
	return nil
}

// FlushUnused demotes every entry to a weak-only hold and removes entries
// whose value has already been collected. Values still referenced elsewhere
// survive and are re-promoted on the next Get.
func (c *Cache[K, V]) FlushUnused() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushUnusedLocked()
}

func (c *Cache[K, V]) flushUnusedLocked() {
	removed := 0
	for key, e := range c.entries {
		e.strong = nil
		if e.weak.Value() == nil {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.log.Debug("flushed collected entries",
			zap.String("cache", c.name),
			zap.Int("removed", removed),
			zap.Int("remaining", len(c.entries)),
		)
	}
}

// Remove drops the entry for key, if any.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Flush drops every entry unconditionally.
func (c *Cache[K, V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of entries currently tracked, including weak-only
// entries whose value may already be collected.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ForEach calls fn for every entry whose value is still alive, outside the
// cache lock. Iteration order is unspecified.
func (c *Cache[K, V]) ForEach(fn func(key K, value *V)) {
	type pair struct {
		key   K
		value *V
	}
	c.mu.Lock()
	live := make([]pair, 0, len(c.entries))
	for key, e := range c.entries {
		v := e.strong
		if v == nil {
			v = e.weak.Value()
		}
		if v != nil {
			live = append(live, pair{key: key, value: v})
		}
	}
	c.mu.Unlock()

	for _, p := range live {
		fn(p.key, p.value)
	}
}

// SetCountLimit changes the entry limit. Setting a limit at or below the
// current entry count triggers an immediate FlushUnused. Zero disables the
// limit.
func (c *Cache[K, V]) SetCountLimit(limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countLimit = limit
	if limit > 0 && len(c.entries) >= limit {
		c.flushUnusedLocked()
	}
}

// ObservePressure subscribes this cache to a memory pressure notifier so
// that every Publish triggers a FlushUnused. The subscription lasts for the
// lifetime of the notifier.
func (c *Cache[K, V]) ObservePressure(n *Notifier) {
	n.Subscribe(c.FlushUnused)
}
