package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/feedworks/feedpager/pkg/feed"
)

// Prometheus metrics for eviction.
var (
	feedItemsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_items_evicted_total",
		Help: "Total items evicted by the memory governor",
	})

	feedEvictionDeferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_eviction_deferred_total",
		Help: "Eviction cycles where the ceiling was raised to protect the visible window",
	})
)

// Governor bounds memory growth of the session item set. Once the ceiling is
// exceeded it trims to MaxItems * CleanupThreshold, keeping the most recently
// appended tail, so the boundary is not re-hit on every single append.
//
// In unfiltered server mode the cumulative page window starts at the head of
// the set, so the first item is always visible and every trim is deferred for
// as long as that window stands. Eviction takes effect once a search narrows
// the visible window to a slice that no longer touches the head.
type Governor struct {
	maxItems         int
	cleanupThreshold float64
	logger           zerolog.Logger
}

// NewGovernor creates a governor with the given ceiling and trim threshold.
func NewGovernor(maxItems int, cleanupThreshold float64, logger zerolog.Logger) *Governor {
	if maxItems <= 0 {
		maxItems = DefaultConfig().MaxItems
	}
	if cleanupThreshold <= 0 || cleanupThreshold > 1 {
		cleanupThreshold = DefaultConfig().CleanupThreshold
	}
	return &Governor{
		maxItems:         maxItems,
		cleanupThreshold: cleanupThreshold,
		logger:           logger,
	}
}

// Optimize returns the item set, trimmed if it exceeds the ceiling. Items in
// the visible set are never evicted: if trimming would drop one, the cut is
// moved back to just before the earliest visible item, effectively raising
// the ceiling for this cycle instead of breaking the visible page.
func (g *Governor) Optimize(items []feed.Item, visible map[string]struct{}) []feed.Item {
	if len(items) <= g.maxItems {
		return items
	}

	target := int(float64(g.maxItems) * g.cleanupThreshold)
	if target <= 0 {
		target = g.maxItems
	}

	cut := len(items) - target
	for i := 0; i < cut; i++ {
		if _, ok := visible[items[i].ID]; ok {
			feedEvictionDeferredTotal.Inc()
			g.logger.Debug().
				Int("items", len(items)).
				Int("protected_at", i).
				Msg("Eviction deferred for visible item")
			cut = i
			break
		}
	}

	if cut <= 0 {
		return items
	}

	feedItemsEvictedTotal.Add(float64(cut))
	g.logger.Debug().
		Int("evicted", cut).
		Int("remaining", len(items)-cut).
		Msg("Evicted oldest items")

	// Copy so the trimmed head can be collected.
	kept := make([]feed.Item, len(items)-cut)
	copy(kept, items[cut:])
	return kept
}

// MaxItems returns the configured ceiling.
func (g *Governor) MaxItems() int {
	return g.maxItems
}
