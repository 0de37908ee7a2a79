package wren

import (
	"encoding/binary"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// CacheEntry is the serialized form of one cached render (spec §5 "response
// cache"). It is msgpack-encoded before being stored in the off-heap
// fastcache, keeping entries compact and avoiding per-entry Go-heap
// allocations for long-lived cache residents.
type CacheEntry struct {
	StatusCode int               `msgpack:"status"`
	Headers    map[string]string `msgpack:"headers"`
	Body       []byte            `msgpack:"body"`
}

// ResponseCache is the process-wide, single-flight render cache (spec §5):
// concurrent requests for the same key share one render in flight, and
// subsequent requests are served from the off-heap cache until evicted.
// Adapted from air.coffer's fastcache-backed asset cache, trading its
// sha256-content-addressing for an xxhash cache-key and a singleflight
// group so concurrent misses collapse into one render instead of one per
// request.
type ResponseCache struct {
	cache *fastcache.Cache
	group singleflight.Group
	mu    sync.RWMutex
}

// NewResponseCache constructs a ResponseCache with maxBytes of off-heap
// capacity.
func NewResponseCache(maxBytes int) *ResponseCache {
	return &ResponseCache{cache: fastcache.New(maxBytes)}
}

// CacheKey builds the cache key for locale+pathname (spec §5: "Keys include
// locale, resolved pathname, and an .amp suffix where applicable"). amp
// should be true only for AMP-variant renders.
func CacheKey(locale, pathname string, amp bool) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(locale)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(pathname)
	if amp {
		_, _ = h.WriteString("\x00amp")
	}
	return h.Sum64()
}

func keyBytes(key uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, key)
	return b
}

// Get returns the cached entry for key, if present.
func (c *ResponseCache) Get(key uint64) (*CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	raw := c.cache.Get(nil, keyBytes(key))
	if len(raw) == 0 {
		return nil, false
	}

	var entry CacheEntry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key.
func (c *ResponseCache) Set(key uint64, entry *CacheEntry) error {
	raw, err := msgpack.Marshal(entry)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cache.Set(keyBytes(key), raw)
	c.mu.Unlock()
	return nil
}

// Del evicts the entry stored under key, if any.
func (c *ResponseCache) Del(key uint64) {
	c.mu.Lock()
	c.cache.Del(keyBytes(key))
	c.mu.Unlock()
}

// GetOrRender returns the cached entry for key, rendering it via render (at
// most once across concurrently-racing callers) on a miss, and caching the
// result. preview bypasses the cache entirely in both directions (spec §5:
// "preview-mode requests bypass the cache").
func (c *ResponseCache) GetOrRender(key uint64, preview bool, render func() (*CacheEntry, error)) (*CacheEntry, error) {
	if preview {
		return render()
	}

	if entry, ok := c.Get(key); ok {
		return entry, nil
	}

	v, err, _ := c.group.Do(keyGroupName(key), func() (interface{}, error) {
		if entry, ok := c.Get(key); ok {
			return entry, nil
		}

		entry, err := render()
		if err != nil {
			return nil, err
		}

		if err := c.Set(key, entry); err != nil {
			return nil, err
		}

		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*CacheEntry), nil
}

func keyGroupName(key uint64) string {
	b := keyBytes(key)
	return string(b)
}
