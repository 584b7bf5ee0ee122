// Package testutil provides testing utilities for the feed pagination engine.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/feedworks/feedpager/pkg/feed"
)

// GenItems generates n items with IDs "<prefix>-<from>".."<prefix>-<from+n-1>".
func GenItems(prefix string, from, n int) []feed.Item {
	items := make([]feed.Item, 0, n)
	for i := from; i < from+n; i++ {
		payload, _ := json.Marshal(map[string]any{"title": fmt.Sprintf("%s %d", prefix, i)})
		items = append(items, feed.Item{
			ID:      fmt.Sprintf("%s-%d", prefix, i),
			Payload: payload,
		})
	}
	return items
}

// FakeSource is a configurable in-memory paged source for testing: it serves
// pages over a fixed dataset with optional latency and scripted failures, and
// tracks how it was called.
type FakeSource struct {
	mu       sync.Mutex
	items    []feed.Item
	latency  time.Duration
	failures int
	failWith error

	// Tracking
	FetchCount   int
	LastPage     int
	LastPageSize int
}

// NewFakeSource creates a source serving n generated items.
func NewFakeSource(n int) *FakeSource {
	return &FakeSource{
		items: GenItems("item", 0, n),
	}
}

// NewFakeSourceWithItems creates a source serving the given items.
func NewFakeSourceWithItems(items []feed.Item) *FakeSource {
	return &FakeSource{items: items}
}

// SetLatency makes every fetch take at least d.
func (s *FakeSource) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailNext makes the next n fetches fail with err.
func (s *FakeSource) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failWith = err
}

// Fetches returns how many fetches the source has served.
func (s *FakeSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FetchCount
}

// FetchPage implements feed.Source.
func (s *FakeSource) FetchPage(ctx context.Context, page, pageSize int, _ feed.FilterSet) (feed.PageResult, error) {
	s.mu.Lock()
	s.FetchCount++
	s.LastPage = page
	s.LastPageSize = pageSize
	latency := s.latency
	var failErr error
	if s.failures > 0 {
		s.failures--
		failErr = s.failWith
	}
	total := len(s.items)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	pageItems := append([]feed.Item(nil), s.items[start:end]...)
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return feed.PageResult{}, ctx.Err()
		}
	}

	if failErr != nil {
		return feed.PageResult{}, failErr
	}

	return feed.PageResult{Items: pageItems, TotalCount: total}, nil
}
