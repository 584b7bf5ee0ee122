package optimizer

import (
	"sync"
	"time"
)

// Condition is a coarse classification of current network conditions.
type Condition string

const (
	// ConditionSlow indicates degraded fetch latency; batches shrink.
	ConditionSlow Condition = "slow"

	// ConditionNormal is the baseline.
	ConditionNormal Condition = "normal"

	// ConditionFast indicates fast fetches; batches grow.
	ConditionFast Condition = "fast"
)

// Batch sizing by condition.
const (
	batchSizeSlow   = 10
	batchSizeNormal = 20
	batchSizeFast   = 40
)

// Prefetch heuristics.
const (
	// nearEndThreshold is how few remaining items count as "near the end".
	nearEndThreshold = 5

	// fastScrollVelocity is the items-per-second rate treated as fast
	// scrolling.
	fastScrollVelocity = 3.0

	// longSessionDwell is how long on the page counts as a long session.
	longSessionDwell = 2 * time.Minute
)

// OptimizeBatchSize returns how many items the next fetch should request,
// bounded by what remains on the server. Returns 0 only when nothing remains.
func OptimizeBatchSize(loaded, total int, hint Condition) int {
	remaining := total - loaded
	if remaining <= 0 {
		return 0
	}

	var size int
	switch hint {
	case ConditionSlow:
		size = batchSizeSlow
	case ConditionFast:
		size = batchSizeFast
	default:
		size = batchSizeNormal
	}

	if size > remaining {
		size = remaining
	}
	if size < 1 {
		size = 1
	}
	return size
}

// ShouldPrefetch reports whether the next batch should be fetched ahead of an
// explicit trigger: near the end of loaded items, scrolling fast, or dwelling
// long with room to grow. Always false at the last item.
func ShouldPrefetch(currentIndex, totalLoaded int, scrollVelocity float64, timeOnPage time.Duration) bool {
	if totalLoaded == 0 || currentIndex >= totalLoaded-1 {
		return false
	}

	if totalLoaded-currentIndex <= nearEndThreshold {
		return true
	}
	if scrollVelocity > fastScrollVelocity {
		return true
	}
	if timeOnPage > longSessionDwell {
		return true
	}
	return false
}

// Latency thresholds for condition classification.
const (
	slowLatency = 800 * time.Millisecond
	fastLatency = 200 * time.Millisecond
)

// ConditionTracker derives a network condition hint from observed fetch
// latencies using an exponentially weighted moving average.
type ConditionTracker struct {
	mu      sync.Mutex
	avg     time.Duration
	samples int
}

// NewConditionTracker creates a tracker with no samples (ConditionNormal).
func NewConditionTracker() *ConditionTracker {
	return &ConditionTracker{}
}

// Record feeds an observed fetch duration into the moving average.
func (t *ConditionTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.samples == 0 {
		t.avg = d
	} else {
		// Weight recent samples more heavily so the hint adapts quickly.
		t.avg = time.Duration(float64(t.avg)*0.7 + float64(d)*0.3)
	}
	t.samples++
}

// Condition classifies the current average latency.
func (t *ConditionTracker) Condition() Condition {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.samples == 0:
		return ConditionNormal
	case t.avg >= slowLatency:
		return ConditionSlow
	case t.avg <= fastLatency:
		return ConditionFast
	default:
		return ConditionNormal
	}
}

// Average returns the current moving-average latency.
func (t *ConditionTracker) Average() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avg
}
