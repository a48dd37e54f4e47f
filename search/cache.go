package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"

	"github.com/ravenoak/autoresearch/core"
)

// CacheKey identifies one cached backend response (spec §4.10): "Key =
// (backend_id, backend_version, normalized_query_fingerprint,
// embedding_policy)".
type CacheKey struct {
	BackendID        string
	BackendVersion   string
	QueryFingerprint string
	EmbeddingPolicy  string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.BackendID, k.BackendVersion, k.QueryFingerprint, k.EmbeddingPolicy)
}

// Fingerprint computes spec §4.8 step 1's deterministic per-backend
// fingerprint H(query, backend, backend_version). Grounded on the
// teacher's own rendezvous-hash-adjacent dependency (cespare/xxhash/v2,
// pulled in transitively by go-redis and used directly here instead of a
// cryptographic hash, since fingerprints only need to be a stable,
// collision-resistant cache key, not tamper-proof).
func Fingerprint(normalizedQuery, backend, backendVersion string) string {
	h := xxhash.New()
	h.Write([]byte(normalizedQuery))
	h.Write([]byte{0})
	h.Write([]byte(backend))
	h.Write([]byte{0})
	h.Write([]byte(backendVersion))
	return fmt.Sprintf("%016x", h.Sum64())
}

func embeddingPolicyLabel(hybridQuery bool) string {
	if hybridQuery {
		return "hybrid"
	}
	return "lexical"
}

// SearchCache is spec §4.10's per-backend result cache: TTL-expiring,
// size-bounded with LRU eviction, safe for concurrent single-writer-per-key
// use. Grounded on `_examples/dataparency-dev-AI-delegation`'s direct use
// of `github.com/patrickmn/go-cache` for the local TTL layer; go-cache has
// no built-in size bound, so a thin recency-order slice (a key moves to
// the back on every hit or rewrite, and the front is evicted first) adds
// the LRU-over-the-cache behaviour spec §4.10 requires. An optional
// `go-redis/redis/v8` layer (`_examples/itsneelabh-gomind`'s own cache
// dependency) backs a distributed second tier so multiple Orchestrator
// processes can share backend results.
type SearchCache struct {
	mu       sync.Mutex
	local    *cache.Cache
	order    []string
	maxItems int
	redis    *redis.Client
	redisTTL time.Duration
	logger   core.Logger
}

// NewSearchCache builds a local-only cache with the given TTL and max
// resident entry count.
func NewSearchCache(ttl time.Duration, maxItems int, logger core.Logger) *SearchCache {
	if maxItems <= 0 {
		maxItems = 10000
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SearchCache{
		local:    cache.New(ttl, ttl/2),
		maxItems: maxItems,
		logger:   logger,
	}
}

// WithRedis attaches an optional distributed second tier.
func (c *SearchCache) WithRedis(client *redis.Client, ttl time.Duration) *SearchCache {
	c.redis = client
	c.redisTTL = ttl
	return c
}

// Get returns the cached raw results for key, checking the local tier then
// the optional distributed tier (populating the local tier on a remote
// hit).
func (c *SearchCache) Get(ctx context.Context, key CacheKey) ([]RawResult, bool) {
	k := key.String()

	c.mu.Lock()
	if v, ok := c.local.Get(k); ok {
		c.touchLocked(k)
		c.mu.Unlock()
		results, _ := v.([]RawResult)
		return results, true
	}
	c.mu.Unlock()

	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, redisCacheKeyPrefix+k).Result()
	if err != nil {
		return nil, false
	}
	var results []RawResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		c.logger.Warn("searchcache: corrupt redis entry", map[string]interface{}{"key": k, "error": err})
		return nil, false
	}
	c.setLocal(k, results)
	return results, true
}

// Set stores results for key in the local tier (and the distributed tier,
// if configured).
func (c *SearchCache) Set(ctx context.Context, key CacheKey, results []RawResult) {
	k := key.String()
	c.setLocal(k, results)

	if c.redis == nil {
		return
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		c.logger.Warn("searchcache: failed to encode for redis", map[string]interface{}{"key": k, "error": err})
		return
	}
	if err := c.redis.Set(ctx, redisCacheKeyPrefix+k, encoded, c.redisTTL).Err(); err != nil {
		c.logger.Warn("searchcache: redis write failed", map[string]interface{}{"key": k, "error": err})
	}
}

func (c *SearchCache) setLocal(k string, results []RawResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.local.Get(k)
	c.local.SetDefault(k, results)
	if !existed {
		c.order = append(c.order, k)
		c.evictOverflowLocked()
	} else {
		c.touchLocked(k)
	}
}

// touchLocked moves k to the back of the LRU order (most recently used).
func (c *SearchCache) touchLocked(k string) {
	for i, existing := range c.order {
		if existing == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, k)
}

func (c *SearchCache) evictOverflowLocked() {
	for len(c.order) > c.maxItems {
		oldest := c.order[0]
		c.order = c.order[1:]
		c.local.Delete(oldest)
	}
}

const redisCacheKeyPrefix = "autoresearch:searchcache:"
