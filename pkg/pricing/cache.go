package pricing

import (
	"sync"
	"time"
)

// PriceCache caches resolved rates per region and architecture
type PriceCache struct {
	data  map[string]*cacheEntry
	ttl   time.Duration
	mutex sync.Mutex
}

type cacheEntry struct {
	rates     Rates
	expiresAt time.Time
}

func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		data: make(map[string]*cacheEntry),
		ttl:  ttl,
	}
}

func (c *PriceCache) Get(key string) (Rates, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.data[key]
	if !exists {
		return Rates{}, false
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return Rates{}, false
	}

	return entry.rates, true
}

func (c *PriceCache) Set(key string, rates Rates) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &cacheEntry{
		rates:     rates,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *PriceCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data = make(map[string]*cacheEntry)
}
