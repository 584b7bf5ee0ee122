package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/feedworks/feedpager/internal/testutil"
	"github.com/feedworks/feedpager/pkg/cache"
	"github.com/feedworks/feedpager/pkg/health"
	"github.com/feedworks/feedpager/pkg/loadmore"
	"github.com/feedworks/feedpager/pkg/prefetch"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// TestSharedCacheAcrossEngines verifies that a page fetched by one engine
// instance is served to a second instance from the shared Redis cache
// without touching its source.
func TestSharedCacheAcrossEngines(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	sharedCache := cache.NewManager(redisClient)
	ctx := context.Background()

	sourceA := testutil.NewFakeSource(60)
	engineA, err := loadmore.New(loadmore.Config{
		Source:       sourceA,
		ItemsPerPage: 10,
		SharedCache:  sharedCache,
	})
	if err != nil {
		t.Fatalf("Failed to create engine A: %v", err)
	}

	t.Log("Engine A: cache miss, fetch from source")
	if err := engineA.LoadInitial(ctx); err != nil {
		t.Fatalf("Engine A initial load failed: %v", err)
	}
	if sourceA.Fetches() != 1 {
		t.Errorf("Engine A source fetches = %d, want 1", sourceA.Fetches())
	}

	// A second engine with its own source and optimizer, same Redis.
	sourceB := testutil.NewFakeSource(60)
	engineB, err := loadmore.New(loadmore.Config{
		Source:       sourceB,
		ItemsPerPage: 10,
		SharedCache:  sharedCache,
	})
	if err != nil {
		t.Fatalf("Failed to create engine B: %v", err)
	}

	t.Log("Engine B: same page served from the shared cache")
	if err := engineB.LoadInitial(ctx); err != nil {
		t.Fatalf("Engine B initial load failed: %v", err)
	}
	if sourceB.Fetches() != 0 {
		t.Errorf("Engine B source fetches = %d, want 0 (shared cache hit)", sourceB.Fetches())
	}

	stateB := engineB.State()
	if len(stateB.PaginatedItems) != 10 {
		t.Errorf("Engine B window = %d items, want 10", len(stateB.PaginatedItems))
	}
	if stateB.Metadata == nil || stateB.Metadata.TotalServerItems != 60 {
		t.Error("Engine B should see the cached page's total count")
	}
}

// TestWarmerFeedsSharedCache verifies that warmed pages are served to an
// engine without source round trips.
func TestWarmerFeedsSharedCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	sharedCache := cache.NewManager(redisClient)
	ctx := context.Background()

	warmSource := testutil.NewFakeSource(60)
	warmer := prefetch.NewWarmer(warmSource, sharedCache, 5*time.Minute, prefetch.DefaultConfig())
	if _, err := warmer.WarmRange(ctx, 1, 3, 10); err != nil {
		t.Fatalf("WarmRange failed: %v", err)
	}
	if warmSource.Fetches() != 3 {
		t.Errorf("warm source fetches = %d, want 3", warmSource.Fetches())
	}

	engineSource := testutil.NewFakeSource(60)
	engine, err := loadmore.New(loadmore.Config{
		Source:       engineSource,
		ItemsPerPage: 10,
		SharedCache:  sharedCache,
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := engine.LoadInitial(ctx); err != nil {
		t.Fatalf("Initial load failed: %v", err)
	}
	if err := engine.TriggerLoadMore(ctx); err != nil {
		t.Fatalf("Load more failed: %v", err)
	}
	if err := engine.TriggerLoadMore(ctx); err != nil {
		t.Fatalf("Load more failed: %v", err)
	}

	if engineSource.Fetches() != 0 {
		t.Errorf("engine source fetches = %d, want 0 (all pages warmed)", engineSource.Fetches())
	}
	if got := len(engine.State().PaginatedItems); got != 30 {
		t.Errorf("window = %d items, want 30", got)
	}
}

// TestHealthBudgetSharedViaRedis verifies that failures recorded by one
// tracker instance gate fetches observed by another.
func TestHealthBudgetSharedViaRedis(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()

	writer := health.NewTracker(redisClient, zerolog.Nop())
	reader := health.NewTracker(redisClient, zerolog.Nop())

	state, err := writer.RecordFailure(ctx)
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if state.Remaining != health.BudgetInitial-1 {
		t.Errorf("Remaining = %d, want %d", state.Remaining, health.BudgetInitial-1)
	}

	// The other instance sees the charged budget.
	read, err := reader.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if read.Remaining != health.BudgetInitial-1 {
		t.Errorf("reader Remaining = %d, want %d", read.Remaining, health.BudgetInitial-1)
	}

	// Drain the budget into the critical band and verify the gate closes.
	seedCriticalBudget(t, redisClient)

	allowed, err := reader.ShouldAllowFetch(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowFetch failed: %v", err)
	}
	if allowed {
		t.Error("fetch should be blocked once the shared budget is critical")
	}
}

// seedCriticalBudget writes a complete critical budget state.
func seedCriticalBudget(t *testing.T, client *redis.Client) {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		t.Fatalf("marshal last update: %v", err)
	}

	if err := client.Set(ctx, health.RedisKeyBudgetRemaining, health.BudgetCritical-1, 0).Err(); err != nil {
		t.Fatalf("seed budget remaining: %v", err)
	}
	if err := client.Set(ctx, health.RedisKeyWindowReset, now.Add(health.WindowLength).Unix(), 0).Err(); err != nil {
		t.Fatalf("seed window reset: %v", err)
	}
	if err := client.Set(ctx, health.RedisKeyLastUpdate, lastUpdateJSON, 0).Err(); err != nil {
		t.Fatalf("seed last update: %v", err)
	}
}
