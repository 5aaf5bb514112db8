// Package common provides the analysis cache layers shared by services.
package common

import (
	"context"
	"sync"
	"time"

	"insight_server/core/domain"
	"insight_server/core/port/out"

	"github.com/rs/zerolog"
)

// =============================================================================
// L1 Store - In-Memory with lazy TTL expiry
// =============================================================================

type cacheEntry[V any] struct {
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

func (e *cacheEntry[V]) expired(now time.Time) bool {
	return !now.Before(e.insertedAt.Add(e.ttl))
}

// L1Store is an unbounded keyed store with per-entry TTL.
// Expiry is checked on read; Sweep drops expired entries in bulk.
type L1Store[V any] struct {
	mu   sync.RWMutex
	data map[string]*cacheEntry[V]
	now  func() time.Time

	hits   int64
	misses int64
}

// NewL1Store creates an empty store using the wall clock.
func NewL1Store[V any]() *L1Store[V] {
	return NewL1StoreWithClock[V](time.Now)
}

// NewL1StoreWithClock creates an empty store reading time from now.
func NewL1StoreWithClock[V any](now func() time.Time) *L1Store[V] {
	if now == nil {
		now = time.Now
	}
	return &L1Store[V]{
		data: make(map[string]*cacheEntry[V]),
		now:  now,
	}
}

// Get returns the live value for key. An expired entry is removed and reported as a miss.
func (s *L1Store[V]) Get(key string) (V, bool) {
	var zero V
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		s.misses++
		return zero, false
	}
	if entry.expired(now) {
		delete(s.data, key)
		s.misses++
		return zero, false
	}

	s.hits++
	return entry.value, true
}

// Put replaces any entry for key. A non-positive ttl is ignored.
func (s *L1Store[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := s.now()

	s.mu.Lock()
	s.data[key] = &cacheEntry[V]{value: value, insertedAt: now, ttl: ttl}
	s.mu.Unlock()
}

// Delete removes a key from the store
func (s *L1Store[V]) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Clear removes all entries and resets counters.
func (s *L1Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]*cacheEntry[V])
	s.hits = 0
	s.misses = 0
}

// Len counts stored entries, expired ones included until read or swept.
func (s *L1Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *L1Store[V]) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.data {
		if entry.expired(now) {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics
func (s *L1Store[V]) Stats() out.CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hitRate := float64(0)
	total := s.hits + s.misses
	if total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}

	return out.CacheStats{
		Items:   len(s.data),
		Hits:    s.hits,
		Misses:  s.misses,
		HitRate: hitRate,
	}
}

// =============================================================================
// Memory Analysis Cache
// =============================================================================

// MemoryAnalysisCache keeps message and thread analyses in two L1 stores.
type MemoryAnalysisCache struct {
	analyses *L1Store[*domain.AnalysisResult]
	threads  *L1Store[*domain.ThreadAnalysis]
}

// NewMemoryAnalysisCache creates a volatile analysis cache.
func NewMemoryAnalysisCache(now func() time.Time) *MemoryAnalysisCache {
	return &MemoryAnalysisCache{
		analyses: NewL1StoreWithClock[*domain.AnalysisResult](now),
		threads:  NewL1StoreWithClock[*domain.ThreadAnalysis](now),
	}
}

func (c *MemoryAnalysisCache) GetAnalysis(_ context.Context, key string) (*domain.AnalysisResult, bool) {
	return c.analyses.Get(key)
}

func (c *MemoryAnalysisCache) PutAnalysis(_ context.Context, key string, value *domain.AnalysisResult, ttl time.Duration) {
	c.analyses.Put(key, value, ttl)
}

func (c *MemoryAnalysisCache) GetThread(_ context.Context, key string) (*domain.ThreadAnalysis, bool) {
	return c.threads.Get(key)
}

func (c *MemoryAnalysisCache) PutThread(_ context.Context, key string, value *domain.ThreadAnalysis, ttl time.Duration) {
	c.threads.Put(key, value, ttl)
}

// Clear empties both stores.
func (c *MemoryAnalysisCache) Clear() {
	c.analyses.Clear()
	c.threads.Clear()
}

// Sweep drops expired entries from both stores.
func (c *MemoryAnalysisCache) Sweep() int {
	return c.analyses.Sweep() + c.threads.Sweep()
}

// Stats merges the counters of both stores.
func (c *MemoryAnalysisCache) Stats() out.CacheStats {
	a, t := c.analyses.Stats(), c.threads.Stats()
	stats := out.CacheStats{
		Items:  a.Items + t.Items,
		Hits:   a.Hits + t.Hits,
		Misses: a.Misses + t.Misses,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// RunJanitor sweeps expired entries every interval until ctx is done.
func (c *MemoryAnalysisCache) RunJanitor(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("analysis cache sweep")
			}
		}
	}
}

// =============================================================================
// L1+L2 Hybrid Cache
// =============================================================================

// JSONStore is the L2 contract satisfied by pkg/cache.RedisCache.
type JSONStore interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// HybridAnalysisCache reads L1 first, falls back to L2 and writes through to both.
// An L2 hit is copied into L1 for the key's remaining L2 lifetime.
// L2 errors degrade to misses so the pipeline keeps serving from memory.
type HybridAnalysisCache struct {
	l1  *MemoryAnalysisCache
	l2  JSONStore
	log zerolog.Logger
}

// NewHybridAnalysisCache combines an L1 memory cache with an L2 store.
func NewHybridAnalysisCache(l1 *MemoryAnalysisCache, l2 JSONStore, log zerolog.Logger) *HybridAnalysisCache {
	return &HybridAnalysisCache{l1: l1, l2: l2, log: log}
}

func (c *HybridAnalysisCache) GetAnalysis(ctx context.Context, key string) (*domain.AnalysisResult, bool) {
	if v, ok := c.l1.GetAnalysis(ctx, key); ok {
		return v, true
	}

	var v domain.AnalysisResult
	ok, err := c.l2.GetJSON(ctx, key, &v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("L2 analysis read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if ttl := c.remainingTTL(ctx, key); ttl > 0 {
		c.l1.PutAnalysis(ctx, key, &v, ttl)
	}
	return &v, true
}

func (c *HybridAnalysisCache) PutAnalysis(ctx context.Context, key string, value *domain.AnalysisResult, ttl time.Duration) {
	c.l1.PutAnalysis(ctx, key, value, ttl)
	if err := c.l2.SetJSON(ctx, key, value, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("L2 analysis write failed")
	}
}

func (c *HybridAnalysisCache) GetThread(ctx context.Context, key string) (*domain.ThreadAnalysis, bool) {
	if v, ok := c.l1.GetThread(ctx, key); ok {
		return v, true
	}

	var v domain.ThreadAnalysis
	ok, err := c.l2.GetJSON(ctx, key, &v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("L2 thread read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if ttl := c.remainingTTL(ctx, key); ttl > 0 {
		c.l1.PutThread(ctx, key, &v, ttl)
	}
	return &v, true
}

func (c *HybridAnalysisCache) PutThread(ctx context.Context, key string, value *domain.ThreadAnalysis, ttl time.Duration) {
	c.l1.PutThread(ctx, key, value, ttl)
	if err := c.l2.SetJSON(ctx, key, value, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("L2 thread write failed")
	}
}

// remainingTTL is zero when L2 cannot report a positive lifetime.
func (c *HybridAnalysisCache) remainingTTL(ctx context.Context, key string) time.Duration {
	ttl, err := c.l2.TTL(ctx, key)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("L2 ttl lookup failed")
		return 0
	}
	return ttl
}

// Stats reports the L1 counters.
func (c *HybridAnalysisCache) Stats() out.CacheStats {
	return c.l1.Stats()
}

var (
	_ out.AnalysisCache = (*MemoryAnalysisCache)(nil)
	_ out.AnalysisCache = (*HybridAnalysisCache)(nil)
)
