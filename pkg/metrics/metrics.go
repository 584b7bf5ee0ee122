// Package metrics provides the centralized Prometheus metrics registry for
// the feed pagination engine. All metrics are defined in their respective
// packages (store, optimizer, cache, loadmore, httpsource, health) to
// maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Store Metrics (pkg/store):
//   - feed_items_held (Gauge): Items currently held in the raw set
//   - feed_state_repairs_total{violation} (Counter): Corrupt-state repairs by violation
//   - feed_store_notifications_total (Counter): State snapshots delivered to subscribers
//   - feed_items_evicted_total (Counter): Items removed by the memory governor
//   - feed_eviction_deferred_total (Counter): Evictions deferred to protect visible items
//
// Fetch Metrics (pkg/optimizer):
//   - feed_fetch_requests_total (Counter): Fetch requests entering the optimizer
//   - feed_fetch_cache_hits_total (Counter): Requests served from the result cache
//   - feed_fetch_deduped_total (Counter): Requests coalesced onto an in-flight fetch
//   - feed_fetch_timeouts_total (Counter): Fetches abandoned at the timeout
//   - feed_fetch_duration_seconds (Histogram): Producer fetch duration
//
// Page Cache Metrics (pkg/cache):
//   - feed_page_cache_hits_total (Counter): Shared page cache hits
//   - feed_page_cache_misses_total (Counter): Shared page cache misses
//   - feed_page_cache_size_bytes (Gauge): Current shared cache size in bytes
//   - feed_page_cache_errors_total{operation} (Counter): Cache operation errors
//
// Load-More Metrics (pkg/loadmore):
//   - feed_load_triggers_total{outcome} (Counter): Triggers by outcome (started, busy, no_more, throttled)
//   - feed_loads_total{mode} (Counter): Completed cycles by mode (server, client)
//   - feed_load_errors_total{class} (Counter): Failed cycles by error class
//   - feed_stale_results_discarded_total (Counter): Fetches discarded after a filter change
//   - feed_prefetches_total (Counter): Background page warms started from scroll signals
//   - feed_fetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - feed_fetch_retry_exhausted_total{error_class} (Counter): Fetches that exhausted max retries
//
// Source Metrics (pkg/httpsource):
//   - feed_source_requests_total{status} (Counter): Source requests by HTTP status
//   - feed_source_request_duration_seconds (Histogram): Source request duration
//   - feed_source_errors_total{class} (Counter): Source errors by class
//
// Health Metrics (pkg/health):
//   - feed_source_budget_remaining (Gauge): Failures remaining in the current budget window
//   - feed_health_blocks_total (Counter): Fetches blocked by a critical budget
//   - feed_health_throttles_total (Counter): Fetches throttled by a low budget
//
// Example Prometheus Queries:
//
//   # Fetch Cache Hit Rate
//   sum(rate(feed_fetch_cache_hits_total[5m])) /
//   sum(rate(feed_fetch_requests_total[5m]))
//
//   # Source Health
//   feed_source_budget_remaining < 20
//
//   # Load Failure Rate
//   rate(feed_load_errors_total[5m])
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(feed_fetch_duration_seconds_bucket[5m]))
//
//   # Memory Pressure
//   rate(feed_items_evicted_total[5m])
