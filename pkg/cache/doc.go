// Package cache provides a shared, Redis-backed cache of fetched feed pages.
//
// The in-process result cache inside the optimizer is per session; this
// package is the optional second layer for deployments where many feed
// sessions hit the same backend and can share page results.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Query:    "",
//		Filters:  feed.FilterSet{"kind": "track"},
//		Page:     2,
//		PageSize: 15,
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch the page from the source, then manager.Set
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - feed_page_cache_hits_total{layer="redis"} - Cache hits
//   - feed_page_cache_misses_total - Cache misses
//   - feed_page_cache_size_bytes{layer="redis"} - Cache size
//   - feed_page_cache_errors_total{operation} - Cache operation errors
package cache
