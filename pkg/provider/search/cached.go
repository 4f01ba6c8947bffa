package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached wraps a Provider with a short-lived in-process result cache keyed by
// the normalised query. Only successful lookups are cached; failures always
// reach the wrapped provider so a recovering backend is noticed immediately.
type Cached struct {
	next  Provider
	cache *gocache.Cache
}

// NewCached returns a caching wrapper around next. Entries expire after ttl
// and are swept every 2*ttl.
func NewCached(next Provider, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{next: next, cache: gocache.New(ttl, 2*ttl)}
}

// Search implements Provider.
func (c *Cached) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	key := cacheKey(query, maxResults)
	if v, ok := c.cache.Get(key); ok {
		return v.([]Result), nil
	}
	results, err := c.next.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, results)
	return results, nil
}

// Len returns the number of cached queries, including expired entries not yet
// swept.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}

func cacheKey(query string, maxResults int) string {
	return fmt.Sprintf("%d|%s", maxResults, strings.Join(strings.Fields(strings.ToLower(query)), " "))
}

var _ Provider = (*Cached)(nil)
