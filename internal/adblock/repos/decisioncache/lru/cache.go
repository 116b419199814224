package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/decisioncache"
)

// decisionCache is an LRU-backed implementation of
// decisioncache.DecisionCache. It tracks hits, misses, and evictions.
type decisionCache struct {
	lru       *lru.Cache[string, domain.MatchResult]
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// disabledCache is a no-op DecisionCache used when size <= 0.
type disabledCache struct{}

// newLRU is a seam for tests to force construction failures.
var newLRU = lru.NewWithEvict[string, domain.MatchResult]

// New creates a DecisionCache holding up to size results. If size <= 0, a
// disabled cache is returned that always misses and tracks no metrics.
func New(size int) (decisioncache.DecisionCache, error) {
	if size <= 0 {
		return &disabledCache{}, nil
	}

	dc := &decisionCache{}
	// NewWithEvict also observes Purge-induced evictions.
	cache, err := newLRU(size, func(string, domain.MatchResult) {
		dc.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	dc.lru = cache
	return dc, nil
}

// Get looks up a result by request key.
func (c *decisionCache) Get(key string) (domain.MatchResult, bool) {
	if val, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		return val, true
	}
	c.misses.Add(1)
	return domain.MatchResult{}, false
}

// Put stores a result by request key.
func (c *decisionCache) Put(key string, r domain.MatchResult) {
	c.lru.Add(key, r)
}

func (c *decisionCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *decisionCache) Purge() { c.lru.Purge() }

// Stats returns cumulative hit/miss/eviction counters.
func (c *decisionCache) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

// disabledCache implementation

func (d *disabledCache) Get(string) (domain.MatchResult, bool) {
	return domain.MatchResult{}, false
}

func (d *disabledCache) Put(string, domain.MatchResult) {}

func (d *disabledCache) Len() int { return 0 }

func (d *disabledCache) Purge() {}

func (d *disabledCache) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var (
	_ decisioncache.DecisionCache = (*decisionCache)(nil)
	_ decisioncache.DecisionCache = (*disabledCache)(nil)
)
