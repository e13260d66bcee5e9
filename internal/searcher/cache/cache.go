// Package cache keeps recent search results in Redis.
//
// Keys carry a generation number stored in Redis itself. Every committed
// write bumps the generation, so results computed before the write are
// never served again and expire on their own TTL. A bump that fails is
// remembered, and the cache is bypassed until a later bump succeeds. Redis
// failures never fail a search: a circuit breaker stops calling Redis while
// it is unhealthy and searches are computed directly.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/resilience"
)

const (
	keyPrefix     = "search:"
	generationKey = keyPrefix + "gen"

	// opTimeout bounds each Redis round trip.
	opTimeout = 250 * time.Millisecond
)

// Backend is the subset of Redis the cache uses. *pkgredis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats counts lookups since the cache was created.
type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Errors  int64  `json:"errors"`
	Breaker string `json:"breaker"`
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64

	// failedBumps counts invalidations that did not reach Redis; repaired
	// is its value when a bump last succeeded. While they differ, results
	// cached before a write may still be reachable.
	failedBumps atomic.Uint64
	repaired    atomic.Uint64
}

// New returns a cache over backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     15 * time.Second,
		}),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// GetOrCompute returns the cached result for query and limit, or runs
// compute and caches what it returns. Concurrent misses for the same key
// share one compute call. The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	limit int,
	compute func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if !c.current(ctx) {
		c.miss()
		res, err := compute()
		return res, false, err
	}
	gen, err := c.generation(ctx)
	if err != nil {
		c.miss()
		res, err := compute()
		return res, false, err
	}
	key := BuildKey(gen, query, limit)
	if res, ok := c.get(ctx, key); ok {
		c.hit()
		return res, true, nil
	}
	c.miss()

	val, err, _ := c.group.Do(key, func() (any, error) {
		res, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate makes every cached result unreachable. When Redis cannot be
// reached the cache stops serving results until a later bump succeeds.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	if err := c.bump(ctx); err != nil {
		c.failedBumps.Add(1)
		return err
	}
	return nil
}

// current reports whether cached results may be served, retrying a
// generation bump that failed earlier.
func (c *QueryCache) current(ctx context.Context) bool {
	if c.failedBumps.Load() == c.repaired.Load() {
		return true
	}
	if err := c.bump(ctx); err != nil {
		c.logger.Warn("cache invalidation still pending, searching uncached", "error", err)
		return false
	}
	c.logger.Info("pending cache invalidation applied")
	return true
}

func (c *QueryCache) bump(ctx context.Context) error {
	failed := c.failedBumps.Load()
	var gen int64
	err := c.call(ctx, "cache invalidate", func(ctx context.Context) error {
		var err error
		gen, err = c.backend.Incr(ctx, generationKey)
		return err
	})
	if err != nil {
		c.errs.Add(1)
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.repaired.Store(failed)
	c.logger.Debug("cache generation bumped", "generation", gen)
	return nil
}

// Flush deletes every cached result and resets the generation.
func (c *QueryCache) Flush(ctx context.Context) (int64, error) {
	var deleted int64
	err := c.call(ctx, "cache flush", func(ctx context.Context) error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		c.errs.Add(1)
		return 0, fmt.Errorf("flushing cache: %w", err)
	}
	c.logger.Info("cache flushed", "keys_deleted", deleted)
	return deleted, nil
}

// Ping reports whether the cache can currently reach Redis.
func (c *QueryCache) Ping(ctx context.Context) error {
	_, err := c.generation(ctx)
	return err
}

func (c *QueryCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.errs.Load(),
		Breaker: c.breaker.GetState().String(),
	}
}

func (c *QueryCache) generation(ctx context.Context) (int64, error) {
	var raw string
	err := c.call(ctx, "cache generation", func(ctx context.Context) error {
		var err error
		raw, err = c.backend.Get(ctx, generationKey)
		if pkgredis.IsNilError(err) {
			raw, err = "0", nil
		}
		return err
	})
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache unavailable, searching uncached", "error", err)
		return 0, err
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.errs.Add(1)
		return 0, fmt.Errorf("parsing cache generation %q: %w", raw, err)
	}
	return gen, nil
}

func (c *QueryCache) get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	var data string
	err := c.call(ctx, "cache get", func(ctx context.Context) error {
		var err error
		data, err = c.backend.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data, err = "", nil
		}
		return err
	})
	if err != nil {
		c.errs.Add(1)
		c.logger.Error("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if data == "" {
		return nil, false
	}
	var res executor.SearchResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		c.errs.Add(1)
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &res, true
}

func (c *QueryCache) set(ctx context.Context, key string, res *executor.SearchResult) {
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.call(ctx, "cache set", func(ctx context.Context) error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.errs.Add(1)
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// call runs one Redis operation through the breaker with opTimeout.
// Values fn assigns must only be read when call returns nil.
func (c *QueryCache) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, opTimeout, op, fn)
	})
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// BuildKey derives the Redis key for query at generation gen. Queries that
// differ only in spacing share a key. Case is kept because AND, OR and NOT
// are operators only in upper case.
func BuildKey(gen int64, query string, limit int) string {
	normalized := strings.Join(strings.Fields(query), " ")
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:limit=%d", normalized, limit)))
	return fmt.Sprintf("%sg%d:%x", keyPrefix, gen, hash[:16])
}
