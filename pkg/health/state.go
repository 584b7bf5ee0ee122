// Package health tracks a shared error budget for a feed source and gates
// fetches when the source is degrading. The budget lives in Redis so every
// engine instance pointed at the same source shares one view of its health.
package health

import (
	"time"
)

// Redis keys for the shared budget state.
const (
	RedisKeyBudgetRemaining = "feed:health:budget_remaining"
	RedisKeyWindowReset     = "feed:health:window_reset"
	RedisKeyLastUpdate      = "feed:health:last_update"
)

// Budget thresholds.
const (
	// BudgetInitial is the number of failures tolerated per window.
	BudgetInitial = 100

	// BudgetCritical blocks all fetches when the remaining budget falls
	// below this value. A degrading source gets breathing room instead of
	// a retry storm.
	BudgetCritical = 5

	// BudgetWarning applies throttling when the remaining budget falls
	// below this value.
	BudgetWarning = 20

	// BudgetHealthy indicates normal operation. At or above this value no
	// restrictions apply.
	BudgetHealthy = 50

	// WindowLength is how long a budget window lasts before it resets.
	WindowLength = 60 * time.Second
)

// BudgetState is the current error-budget state of the source.
// Shared across all engine instances via Redis.
type BudgetState struct {
	// Remaining is the number of failures left before fetches are blocked.
	Remaining int `json:"remaining"`

	// ResetAt is when the current budget window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state last changed. Used to detect stale
	// state.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= BudgetHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *BudgetState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsBlock returns true if fetches should be blocked outright.
func (s *BudgetState) NeedsBlock() bool {
	return s.Remaining < BudgetCritical
}

// NeedsThrottling returns true if fetches should be slowed down.
func (s *BudgetState) NeedsThrottling() bool {
	return s.Remaining < BudgetWarning && !s.NeedsBlock()
}

// TimeUntilReset returns the duration until the budget window resets.
// Returns 0 if the reset time has already passed.
func (s *BudgetState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *BudgetState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= BudgetHealthy
}
