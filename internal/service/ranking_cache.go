package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tierd/tierd-go/internal/metrics"
)

// DefaultRankingCacheTTL is how long a computed score stays fresh without an
// explicit invalidation.
const DefaultRankingCacheTTL = 5 * time.Minute

// ScoreLoader computes a product's ranking score from the store.
type ScoreLoader func(ctx context.Context, productID string) (float64, error)

type cachedScore struct {
	score     float64
	expiresAt time.Time
}

// CacheToken is taken before computing a score and handed to Store. A store
// is dropped when the product was invalidated after the token was taken.
type CacheToken uint64

// RankingCache memoizes ranking scores per product. A TTL of zero or less
// disables it: every lookup recomputes. Concurrent misses are not coalesced.
type RankingCache struct {
	mu      sync.RWMutex
	entries map[string]cachedScore
	ttl     time.Duration
	clock   clockwork.Clock
	load    ScoreLoader

	// seq counts invalidations. dirty holds the seq of each product's last
	// Invalidate and flushed the seq of the last InvalidateAll.
	seq     uint64
	dirty   map[string]uint64
	flushed uint64
}

func NewRankingCache(load ScoreLoader, ttl time.Duration, clock clockwork.Clock) *RankingCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RankingCache{
		entries: make(map[string]cachedScore),
		dirty:   make(map[string]uint64),
		ttl:     ttl,
		clock:   clock,
		load:    load,
	}
}

func (c *RankingCache) Enabled() bool {
	return c.ttl > 0
}

// GetScore returns the cached score or computes and stores it on a miss.
// Loader errors are returned and nothing is cached.
func (c *RankingCache) GetScore(ctx context.Context, productID string) (float64, error) {
	if score, ok := c.Peek(productID); ok {
		metrics.RankingCacheHits.Inc()
		return score, nil
	}
	metrics.RankingCacheMisses.Inc()

	token := c.Token()
	score, err := c.load(ctx, productID)
	if err != nil {
		return 0, err
	}
	c.Store(productID, score, token)
	return score, nil
}

// Token marks the point after which an invalidation voids a pending Store.
// Take it before reading the data the score is computed from.
func (c *RankingCache) Token() CacheToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheToken(c.seq)
}

// Peek returns a fresh cached score without loading.
func (c *RankingCache) Peek(productID string) (float64, bool) {
	if !c.Enabled() {
		return 0, false
	}
	c.mu.RLock()
	e, ok := c.entries[productID]
	c.mu.RUnlock()
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return 0, false
	}
	return e.score, true
}

// Store records a score computed after token was taken. It reports false
// and stores nothing when disabled or when the product was invalidated since.
func (c *RankingCache) Store(productID string, score float64, token CacheToken) bool {
	if !c.Enabled() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flushed > uint64(token) || c.dirty[productID] > uint64(token) {
		return false
	}
	c.entries[productID] = cachedScore{score: score, expiresAt: c.clock.Now().Add(c.ttl)}
	return true
}

func (c *RankingCache) Invalidate(productID string) {
	c.mu.Lock()
	c.seq++
	c.dirty[productID] = c.seq
	delete(c.entries, productID)
	c.mu.Unlock()
}

func (c *RankingCache) InvalidateAll() {
	c.mu.Lock()
	c.seq++
	c.flushed = c.seq
	c.entries = make(map[string]cachedScore)
	c.dirty = make(map[string]uint64)
	c.mu.Unlock()
}

// Len reports the number of stored entries, fresh or not.
func (c *RankingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
