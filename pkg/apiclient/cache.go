package apiclient

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 100
)

type cacheItem struct {
	key      string
	response *Response
	storedAt time.Time
}

// responseCache is a bounded TTL cache evicting the oldest insertion first.
type responseCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	order      *list.List
	items      map[string]*list.Element
}

func newResponseCache(ttl time.Duration, maxEntries int, now func() time.Time) *responseCache {
	return &responseCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *responseCache) get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	item := elem.Value.(*cacheItem)
	if c.now().Sub(item.storedAt) >= c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)

		return nil, false
	}

	return item.response, true
}

func (c *responseCache) put(key string, response *Response) {
	if c.maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}

	for c.order.Len() >= c.maxEntries {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}

	c.items[key] = c.order.PushBack(&cacheItem{key: key, response: response, storedAt: c.now()})
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// cacheKey hashes method, url, query and headers with map entries in sorted order.
func cacheKey(method, url string, query, headers map[string]string) string {
	var b strings.Builder

	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(url)
	b.WriteByte('\n')
	writeSorted(&b, query)
	b.WriteByte('\n')
	writeSorted(&b, headers)

	sum := sha256.Sum256([]byte(b.String()))

	return hex.EncodeToString(sum[:])
}

func writeSorted(b *strings.Builder, values map[string]string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
		b.WriteByte('&')
	}
}
