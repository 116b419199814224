// Package decisioncache defines the cache the engine keeps in front of the
// matcher.
package decisioncache

import "github.com/haukened/rr-adblock/internal/adblock/domain"

// DecisionCache caches match results by request cache key with basic
// metrics. Implementations must be safe for concurrent use.
type DecisionCache interface {
	Get(key string) (domain.MatchResult, bool)
	Put(key string, r domain.MatchResult)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}
