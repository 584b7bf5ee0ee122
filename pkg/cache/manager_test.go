package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feedworks/feedpager/pkg/feed"
)

// setupTestRedis creates a test Redis client. Unit tests use a local Redis
// and skip when unavailable; the integration suite uses testcontainers-go.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	key := Key{Query: "synthwave", Page: 1, PageSize: 15}
	entry := NewEntry(feed.PageResult{
		Items:      []feed.Item{{ID: "track-1"}, {ID: "track-2"}},
		TotalCount: 30,
	}, 5*time.Minute)

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(retrieved.Items) != 2 {
		t.Errorf("Items = %d, want 2", len(retrieved.Items))
	}
	if retrieved.TotalCount != 30 {
		t.Errorf("TotalCount = %d, want 30", retrieved.TotalCount)
	}
	if retrieved.Items[0].ID != "track-1" {
		t.Errorf("first item = %s, want track-1", retrieved.Items[0].ID)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	_, err := manager.Get(ctx, Key{Page: 99, PageSize: 15})
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestManager_Set_ExpiredEntryNotCached(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	key := Key{Page: 1, PageSize: 15}
	entry := NewEntry(feed.PageResult{Items: []feed.Item{{ID: "x"}}}, -1*time.Minute)

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	key := Key{Page: 2, PageSize: 15}
	entry := NewEntry(feed.PageResult{Items: []feed.Item{{ID: "y"}}}, time.Minute)

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := manager.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}
