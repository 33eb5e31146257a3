package backend

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ProbeFunc is an uncached liveness check.
type ProbeFunc func(ctx context.Context) bool

// CachedProbe remembers the last probe outcome for a short TTL so health
// checks do not hit the backend on every call.
type CachedProbe struct {
	key   string
	probe ProbeFunc
	cache *expirable.LRU[string, bool]
}

// NewCachedProbe wraps probe. A ttl of zero disables caching.
func NewCachedProbe(key string, ttl time.Duration, probe ProbeFunc) *CachedProbe {
	c := &CachedProbe{key: key, probe: probe}
	if ttl > 0 {
		c.cache = expirable.NewLRU[string, bool](1, nil, ttl)
	}
	return c
}

// Probe returns the cached outcome or runs the probe. Results from a probe
// aborted by ctx are not cached.
func (c *CachedProbe) Probe(ctx context.Context) bool {
	if c.cache != nil {
		if ok, hit := c.cache.Get(c.key); hit {
			return ok
		}
	}
	ok := c.probe(ctx)
	if c.cache != nil && ctx.Err() == nil {
		c.cache.Add(c.key, ok)
	}
	return ok
}

// Invalidate drops the cached outcome.
func (c *CachedProbe) Invalidate() {
	if c.cache != nil {
		c.cache.Remove(c.key)
	}
}
