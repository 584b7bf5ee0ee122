package health

import (
	"testing"
	"time"
)

func TestBudgetState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		state    *BudgetState
		maxAge   time.Duration
		expected bool
	}{
		{
			name: "fresh state",
			state: &BudgetState{
				LastUpdate: time.Now(),
			},
			maxAge:   5 * time.Minute,
			expected: false,
		},
		{
			name: "stale state",
			state: &BudgetState{
				LastUpdate: time.Now().Add(-10 * time.Minute),
			},
			maxAge:   5 * time.Minute,
			expected: true,
		},
		{
			name: "just under max age",
			state: &BudgetState{
				LastUpdate: time.Now().Add(-4 * time.Minute),
			},
			maxAge:   5 * time.Minute,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.state.IsStale(tt.maxAge)
			if result != tt.expected {
				t.Errorf("IsStale() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestBudgetState_NeedsBlock(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{
			name:      "well above critical threshold",
			remaining: 50,
			expected:  false,
		},
		{
			name:      "at critical threshold",
			remaining: BudgetCritical,
			expected:  false,
		},
		{
			name:      "just below critical threshold",
			remaining: BudgetCritical - 1,
			expected:  true,
		},
		{
			name:      "budget exhausted",
			remaining: 0,
			expected:  true,
		},
		{
			name:      "budget overdrawn",
			remaining: -3,
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &BudgetState{Remaining: tt.remaining}
			result := state.NeedsBlock()
			if result != tt.expected {
				t.Errorf("NeedsBlock() = %v, want %v (remaining=%d)", result, tt.expected, tt.remaining)
			}
		})
	}
}

func TestBudgetState_NeedsThrottling(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{
			name:      "healthy budget",
			remaining: 80,
			expected:  false,
		},
		{
			name:      "at warning threshold",
			remaining: BudgetWarning,
			expected:  false,
		},
		{
			name:      "just below warning threshold",
			remaining: BudgetWarning - 1,
			expected:  true,
		},
		{
			name:      "critical band is block not throttle",
			remaining: BudgetCritical - 1,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &BudgetState{Remaining: tt.remaining}
			result := state.NeedsThrottling()
			if result != tt.expected {
				t.Errorf("NeedsThrottling() = %v, want %v (remaining=%d)", result, tt.expected, tt.remaining)
			}
		})
	}
}

func TestBudgetState_TimeUntilReset(t *testing.T) {
	tests := []struct {
		name    string
		resetAt time.Time
		wantMin time.Duration
		wantMax time.Duration
	}{
		{
			name:    "reset in the future",
			resetAt: time.Now().Add(30 * time.Second),
			wantMin: 29 * time.Second,
			wantMax: 30 * time.Second,
		},
		{
			name:    "reset already passed",
			resetAt: time.Now().Add(-10 * time.Second),
			wantMin: 0,
			wantMax: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &BudgetState{ResetAt: tt.resetAt}
			result := state.TimeUntilReset()
			if result < tt.wantMin || result > tt.wantMax {
				t.Errorf("TimeUntilReset() = %v, want between %v and %v", result, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestBudgetState_UpdateHealth(t *testing.T) {
	tests := []struct {
		name      string
		remaining int
		expected  bool
	}{
		{
			name:      "healthy",
			remaining: BudgetHealthy,
			expected:  true,
		},
		{
			name:      "just below healthy",
			remaining: BudgetHealthy - 1,
			expected:  false,
		},
		{
			name:      "full budget",
			remaining: BudgetInitial,
			expected:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &BudgetState{Remaining: tt.remaining}
			state.UpdateHealth()
			if state.IsHealthy != tt.expected {
				t.Errorf("UpdateHealth() set IsHealthy = %v, want %v (remaining=%d)", state.IsHealthy, tt.expected, tt.remaining)
			}
		})
	}
}
