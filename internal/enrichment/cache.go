package enrichment

import (
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingLocator memoizes lookups of another Locator in a fixed size LRU.
// Misses are cached too; errors are not.
type CachingLocator struct {
	next  Locator
	cache *lru.Cache[string, *Location]
}

// NewCachingLocator wraps next with an LRU of the given size
func NewCachingLocator(next Locator, size int) (*CachingLocator, error) {
	cache, err := lru.New[string, *Location](size)
	if err != nil {
		return nil, err
	}
	return &CachingLocator{next: next, cache: cache}, nil
}

// Locate returns the cached answer for ip or asks the wrapped locator
func (c *CachingLocator) Locate(ip string) (*Location, error) {
	if location, ok := c.cache.Get(ip); ok {
		return location, nil
	}

	location, err := c.next.Locate(ip)
	if err != nil {
		return nil, err
	}
	c.cache.Add(ip, location)
	return location, nil
}

// Len returns the number of cached entries
func (c *CachingLocator) Len() int {
	return c.cache.Len()
}

// Close purges the cache and closes the wrapped locator if it can be closed
func (c *CachingLocator) Close() error {
	c.cache.Purge()
	if closer, ok := c.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
