package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for source health tracking.
var (
	feedBudgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_source_budget_remaining",
		Help: "Failures remaining in the current source error-budget window",
	})

	feedHealthBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_health_blocks_total",
		Help: "Fetches blocked because the source error budget is critical",
	})

	feedHealthThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_health_throttles_total",
		Help: "Fetches throttled because the source error budget is low",
	})
)

// throttleDelay is the pause applied to fetches in the warning band.
const throttleDelay = 200 * time.Millisecond

// Tracker monitors the source error budget and gates fetches.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new source health tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the current budget state from Redis.
// Returns a fresh healthy state if no data exists.
func (t *Tracker) GetState(ctx context.Context) (*BudgetState, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyBudgetRemaining).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get budget remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyWindowReset).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get window reset: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	// No state yet: the source is assumed healthy until failures say
	// otherwise.
	if err == redis.Nil {
		t.logger.Debug().Msg("No health state in Redis, returning fresh budget")
		return &BudgetState{
			Remaining:  BudgetInitial,
			ResetAt:    time.Now().Add(WindowLength),
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &BudgetState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()

	return state, nil
}

// RecordFailure charges one failure against the shared budget and returns the
// updated state. A new window is opened when the previous one expired.
func (t *Tracker) RecordFailure(ctx context.Context) (*BudgetState, error) {
	now := time.Now()

	// Seed the window if it is missing or expired. SetNX with a TTL makes
	// the window self-resetting across instances.
	if err := t.redis.SetNX(ctx, RedisKeyBudgetRemaining, BudgetInitial, WindowLength).Err(); err != nil {
		return nil, fmt.Errorf("seed budget window: %w", err)
	}
	t.redis.SetNX(ctx, RedisKeyWindowReset, now.Add(WindowLength).Unix(), WindowLength)

	remaining, err := t.redis.Decr(ctx, RedisKeyBudgetRemaining).Result()
	if err != nil {
		return nil, fmt.Errorf("charge budget: %w", err)
	}

	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		return nil, fmt.Errorf("marshal last update: %w", err)
	}
	if err := t.redis.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, WindowLength).Err(); err != nil {
		return nil, fmt.Errorf("store last update: %w", err)
	}

	state := &BudgetState{
		Remaining:  int(remaining),
		LastUpdate: now,
	}
	if resetTimestamp, err := t.redis.Get(ctx, RedisKeyWindowReset).Int64(); err == nil {
		state.ResetAt = time.Unix(resetTimestamp, 0)
	} else {
		state.ResetAt = now.Add(WindowLength)
	}
	state.UpdateHealth()

	feedBudgetRemaining.Set(float64(state.Remaining))

	logEvent := t.logger.Info().
		Int("budget_remaining", state.Remaining).
		Time("reset_at", state.ResetAt).
		Bool("is_healthy", state.IsHealthy)

	if state.NeedsBlock() {
		logEvent = t.logger.Error()
		logEvent.Msg("Source error budget CRITICAL - fetches will be blocked")
	} else if state.NeedsThrottling() {
		logEvent = t.logger.Warn()
		logEvent.Msg("Source error budget WARNING - fetches will be throttled")
	} else {
		logEvent.Msg("Source failure recorded")
	}

	return state, nil
}

// ShouldAllowFetch checks whether a fetch should go out under the current
// budget. Returns false when the budget is critical; in the warning band it
// returns true after a short delay.
func (t *Tracker) ShouldAllowFetch(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get health state: %w", err)
	}

	if state.NeedsBlock() {
		t.logger.Error().
			Int("budget_remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Source error budget critical - blocking fetch")

		feedHealthBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("budget_remaining", state.Remaining).
			Msg("Source error budget low - throttling fetch")

		feedHealthThrottlesTotal.Inc()
		select {
		case <-time.After(throttleDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return true, nil
}
