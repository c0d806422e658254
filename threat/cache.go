package threat

import (
	"time"

	"logsentry/core"
	"logsentry/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultReputationCacheSize bounds the reputation cache when no size is configured
const DefaultReputationCacheSize = 10000

// reputationCache holds reputation verdicts keyed by normalized value.
// The underlying LRU is internally synchronized.
type reputationCache struct {
	lru *expirable.LRU[string, core.ReputationScore]
}

// newReputationCache creates a bounded cache. A ttl of zero disables expiry.
// A non-zero ttl starts the library's background expiry goroutine.
func newReputationCache(size int, ttl time.Duration) *reputationCache {
	if size <= 0 {
		size = DefaultReputationCacheSize
	}
	return &reputationCache{
		lru: expirable.NewLRU[string, core.ReputationScore](size, nil, ttl),
	}
}

func (c *reputationCache) get(key string) (core.ReputationScore, bool) {
	score, ok := c.lru.Get(key)
	if ok {
		metrics.ReputationLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.ReputationLookups.WithLabelValues("miss").Inc()
	}
	return score, ok
}

func (c *reputationCache) add(key string, score core.ReputationScore) {
	c.lru.Add(key, score)
}

func (c *reputationCache) remove(key string) bool {
	return c.lru.Remove(key)
}

func (c *reputationCache) purge() {
	c.lru.Purge()
}

func (c *reputationCache) len() int {
	return c.lru.Len()
}
