package optimizer

import (
	"testing"
	"time"
)

func TestOptimizeBatchSize(t *testing.T) {
	tests := []struct {
		name   string
		loaded int
		total  int
		hint   Condition
		want   int
	}{
		{"normal baseline", 0, 100, ConditionNormal, 20},
		{"fast grows", 0, 100, ConditionFast, 40},
		{"slow shrinks", 0, 100, ConditionSlow, 10},
		{"bounded by remaining", 95, 100, ConditionFast, 5},
		{"one item remains", 99, 100, ConditionSlow, 1},
		{"nothing remains", 100, 100, ConditionNormal, 0},
		{"over-loaded", 120, 100, ConditionNormal, 0},
		{"unknown hint uses normal", 0, 100, Condition("?"), 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OptimizeBatchSize(tt.loaded, tt.total, tt.hint)
			if got != tt.want {
				t.Errorf("OptimizeBatchSize(%d, %d, %s) = %d, want %d",
					tt.loaded, tt.total, tt.hint, got, tt.want)
			}
		})
	}
}

func TestOptimizeBatchSize_OrderingAcrossHints(t *testing.T) {
	slow := OptimizeBatchSize(0, 1000, ConditionSlow)
	normal := OptimizeBatchSize(0, 1000, ConditionNormal)
	fast := OptimizeBatchSize(0, 1000, ConditionFast)

	if !(slow < normal && normal < fast) {
		t.Errorf("expected slow < normal < fast, got %d, %d, %d", slow, normal, fast)
	}
}

func TestShouldPrefetch(t *testing.T) {
	tests := []struct {
		name       string
		index      int
		loaded     int
		velocity   float64
		timeOnPage time.Duration
		want       bool
	}{
		{"near end", 96, 100, 0.5, time.Second, true},
		{"fast scroll", 10, 100, 5.0, time.Second, true},
		{"long dwell with room", 10, 100, 0.5, 3 * time.Minute, true},
		{"mid-list slow scroll", 50, 100, 0.5, time.Second, false},
		{"at last item", 99, 100, 5.0, 3 * time.Minute, false},
		{"beyond last item", 120, 100, 5.0, time.Second, false},
		{"empty feed", 0, 0, 5.0, time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldPrefetch(tt.index, tt.loaded, tt.velocity, tt.timeOnPage)
			if got != tt.want {
				t.Errorf("ShouldPrefetch(%d, %d, %v, %v) = %v, want %v",
					tt.index, tt.loaded, tt.velocity, tt.timeOnPage, got, tt.want)
			}
		})
	}
}

func TestConditionTracker(t *testing.T) {
	tr := NewConditionTracker()

	if tr.Condition() != ConditionNormal {
		t.Errorf("fresh tracker = %s, want normal", tr.Condition())
	}

	tr.Record(50 * time.Millisecond)
	if tr.Condition() != ConditionFast {
		t.Errorf("after fast sample = %s, want fast", tr.Condition())
	}

	// A run of slow fetches pulls the average over the slow threshold.
	for i := 0; i < 10; i++ {
		tr.Record(2 * time.Second)
	}
	if tr.Condition() != ConditionSlow {
		t.Errorf("after slow run = %s (avg %v), want slow", tr.Condition(), tr.Average())
	}
}
