package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// Cache is an in-memory store of successful raw bodies keyed by fetcher
// identity, location, user agent, and a hash of extra headers. Entries live
// for the lifetime of the process; errors are never cached.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]byte)}
}

// Key derives the cache key for one fetch.
func Key(fetcherID, location, userAgent string, headers map[string]string) string {
	return fmt.Sprintf("%s|%s|%s|%s", fetcherID, location, userAgent, headersHash(headers))
}

func headersHash(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(headers[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached body. forceReload bypasses the read but not the
// subsequent Put.
func (c *Cache) Get(key string, forceReload bool) ([]byte, bool) {
	if c == nil || forceReload {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	body, ok := c.entries[key]
	return body, ok
}

// Put stores a successful body.
func (c *Cache) Put(key string, body []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = body
}

// ContentHash returns the SHA-256 hex digest of a body, recorded in profile
// metadata as cache_hashes[source_url].
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
