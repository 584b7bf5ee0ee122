package prefetch

import (
	"context"
	"testing"
	"time"

	"github.com/feedworks/feedpager/internal/testutil"
	"github.com/feedworks/feedpager/pkg/feed"
)

func TestWarmRange(t *testing.T) {
	source := testutil.NewFakeSource(100)
	warmer := NewWarmer(source, nil, time.Minute, DefaultConfig())

	results, err := warmer.WarmRange(context.Background(), 2, 5, 10)
	if err != nil {
		t.Fatalf("WarmRange failed: %v", err)
	}

	if len(results) != 4 {
		t.Fatalf("warmed %d pages, want 4", len(results))
	}
	for page := 2; page <= 5; page++ {
		result, ok := results[page]
		if !ok {
			t.Errorf("page %d missing from results", page)
			continue
		}
		if len(result.Items) != 10 {
			t.Errorf("page %d has %d items, want 10", page, len(result.Items))
		}
	}

	// Page 3 starts at offset 20.
	if got := results[3].Items[0].ID; got != "item-20" {
		t.Errorf("page 3 first item = %q, want item-20", got)
	}
}

func TestWarmRange_EmptyRange(t *testing.T) {
	source := testutil.NewFakeSource(10)
	warmer := NewWarmer(source, nil, time.Minute, DefaultConfig())

	results, err := warmer.WarmRange(context.Background(), 5, 2, 10)
	if err != nil {
		t.Fatalf("WarmRange failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("warmed %d pages, want 0 for an inverted range", len(results))
	}
	if source.Fetches() != 0 {
		t.Errorf("source fetched %d times, want 0", source.Fetches())
	}
}

func TestWarmRange_PartialOnFailure(t *testing.T) {
	source := testutil.NewFakeSource(100)
	source.FailNext(1, &feed.FetchError{Class: feed.ErrorClassServer, Message: "unavailable"})

	// Single worker makes the failure deterministic: the first fetched page
	// fails and aborts the queue.
	config := DefaultConfig()
	config.MaxConcurrency = 1

	warmer := NewWarmer(source, nil, time.Minute, config)
	results, err := warmer.WarmRange(context.Background(), 1, 4, 10)

	if err == nil {
		t.Fatal("WarmRange should surface the worker error")
	}
	if len(results) != 0 {
		t.Errorf("warmed %d pages, want 0 when the first fetch fails", len(results))
	}
}

func TestWarmRange_ContextCancel(t *testing.T) {
	source := testutil.NewFakeSource(100)
	source.SetLatency(50 * time.Millisecond)

	config := DefaultConfig()
	config.MaxConcurrency = 1

	warmer := NewWarmer(source, nil, time.Minute, config)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	results, _ := warmer.WarmRange(ctx, 1, 20, 5)
	if len(results) >= 20 {
		t.Errorf("warmed %d pages, expected cancellation to cut the range short", len(results))
	}
}
