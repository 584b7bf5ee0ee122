// Package optimizer prevents redundant fetch work and adapts fetch behavior
// to current conditions. It deduplicates concurrent identical requests,
// caches recent results with a TTL, enforces per-request timeouts, and
// computes batch-size and prefetch decisions from scroll and network
// heuristics.
package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/feedworks/feedpager/pkg/feed"
	"github.com/feedworks/feedpager/pkg/logging"
)

// Prometheus metrics for fetch optimization.
var (
	fetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_fetch_requests_total",
		Help: "Total fetch requests seen by the optimizer",
	})

	fetchCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_fetch_cache_hits_total",
		Help: "Fetch requests served from the result cache",
	})

	fetchDedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_fetch_deduped_total",
		Help: "Fetch requests coalesced onto an in-flight request",
	})

	fetchTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_fetch_timeouts_total",
		Help: "Fetch requests abandoned after the timeout",
	})

	fetchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_fetch_duration_seconds",
		Help:    "Producer fetch duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// Producer performs the underlying fetch for a request key.
type Producer func(ctx context.Context) (feed.PageResult, error)

// Config holds optimizer configuration.
type Config struct {
	// TTL is the default result cache freshness window.
	TTL time.Duration

	// Timeout bounds how long a caller waits for a producer to settle.
	Timeout time.Duration

	// MaxCacheEntries bounds the result cache; the oldest entry is evicted
	// on overflow.
	MaxCacheEntries int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		TTL:             5 * time.Minute,
		Timeout:         10 * time.Second,
		MaxCacheEntries: 64,
	}
}

type cachedResult struct {
	result   feed.PageResult
	cachedAt time.Time
}

// Optimizer deduplicates and caches page fetches. Safe for concurrent use.
type Optimizer struct {
	cfg     Config
	flights singleflight.Group
	logger  zerolog.Logger

	mu      sync.Mutex
	cache   map[string]cachedResult
	order   []string // insertion order for oldest-first eviction
	tracker *ConditionTracker

	// counters for Stats
	requests   int64
	hits       int64
	fetchCount int64
	fetchTime  time.Duration
}

// New creates an optimizer. Zero config fields fall back to defaults.
func New(cfg Config) *Optimizer {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = def.MaxCacheEntries
	}

	return &Optimizer{
		cfg:     cfg,
		logger:  logging.NewLogger("optimizer"),
		cache:   make(map[string]cachedResult),
		tracker: NewConditionTracker(),
	}
}

// Do returns a result for key, serving it from cache when a success for the
// same key is fresher than ttl, and joining an in-flight request for the same
// key instead of invoking producer again. Failures are never cached; the next
// call with the same key re-invokes the producer. ttl <= 0 uses the default.
//
// If the producer does not settle within the configured timeout, Do returns
// feed.ErrTimeout and clears the in-flight marker so a retry can proceed
// immediately.
func (o *Optimizer) Do(ctx context.Context, key string, ttl time.Duration, producer Producer) (feed.PageResult, error) {
	if ttl <= 0 {
		ttl = o.cfg.TTL
	}

	fetchRequestsTotal.Inc()
	o.mu.Lock()
	o.requests++
	entry, ok := o.cache[key]
	if ok && time.Since(entry.cachedAt) <= ttl {
		o.hits++
		o.mu.Unlock()
		fetchCacheHitsTotal.Inc()
		o.logger.Debug().Str("key", key).Bool("cache_hit", true).Msg("Served from result cache")
		return entry.result, nil
	}
	o.mu.Unlock()

	ch := o.flights.DoChan(key, func() (interface{}, error) {
		// The flight outlives any single waiter; bound it by the timeout
		// rather than a caller's context.
		fctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
		defer cancel()

		start := time.Now()
		result, err := producer(fctx)
		elapsed := time.Since(start)

		fetchDurationSeconds.Observe(elapsed.Seconds())
		o.mu.Lock()
		o.fetchCount++
		o.fetchTime += elapsed
		o.mu.Unlock()
		o.tracker.Record(elapsed)

		if err != nil {
			return feed.PageResult{}, err
		}

		o.store(key, result)
		return result, nil
	})

	timer := time.NewTimer(o.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return feed.PageResult{}, res.Err
		}
		if res.Shared {
			fetchDedupedTotal.Inc()
			o.logger.Debug().Str("key", key).Msg("Joined in-flight request")
		}
		return res.Val.(feed.PageResult), nil

	case <-timer.C:
		// Clear the in-flight marker so the next trigger is not blocked
		// behind a hung producer.
		o.flights.Forget(key)
		fetchTimeoutsTotal.Inc()
		o.logger.Warn().Str("key", key).Dur("timeout", o.cfg.Timeout).Msg("Fetch timed out")
		return feed.PageResult{}, fmt.Errorf("%w: key %q after %s", feed.ErrTimeout, key, o.cfg.Timeout)

	case <-ctx.Done():
		// The flight keeps running for other waiters.
		return feed.PageResult{}, ctx.Err()
	}
}

// store caches a successful result, evicting the oldest entry on overflow.
func (o *Optimizer) store(key string, result feed.PageResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.cache[key]; !exists {
		for len(o.cache) >= o.cfg.MaxCacheEntries && len(o.order) > 0 {
			oldest := o.order[0]
			o.order = o.order[1:]
			delete(o.cache, oldest)
		}
		o.order = append(o.order, key)
	}
	o.cache[key] = cachedResult{result: result, cachedAt: time.Now()}
}

// Invalidate drops any cached result for key.
func (o *Optimizer) Invalidate(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, key)
	for i, k := range o.order {
		if k == key {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Stats summarizes optimizer activity for the diagnostics surface.
type Stats struct {
	Requests         int64
	CacheHits        int64
	CacheHitRate     float64
	AverageFetchTime time.Duration
}

// Stats returns a snapshot of the optimizer counters.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{
		Requests:  o.requests,
		CacheHits: o.hits,
	}
	if o.requests > 0 {
		s.CacheHitRate = float64(o.hits) / float64(o.requests)
	}
	if o.fetchCount > 0 {
		s.AverageFetchTime = o.fetchTime / time.Duration(o.fetchCount)
	}
	return s
}

// Tracker returns the optimizer's network condition tracker.
func (o *Optimizer) Tracker() *ConditionTracker {
	return o.tracker
}
