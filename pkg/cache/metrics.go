package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks shared page cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_page_cache_hits_total",
			Help: "Total number of shared page cache hits",
		},
		[]string{"layer"}, // "redis"
	)

	// CacheMisses tracks shared page cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_page_cache_misses_total",
			Help: "Total number of shared page cache misses",
		},
	)

	// CacheSize tracks cache size in bytes by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_page_cache_size_bytes",
			Help: "Current size of shared page cache in bytes",
		},
		[]string{"layer"}, // "redis"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_page_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
