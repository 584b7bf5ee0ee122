// Package prefetch provides parallel warming of upcoming feed pages.
package prefetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/feedworks/feedpager/pkg/cache"
	"github.com/feedworks/feedpager/pkg/feed"
)

// Config holds warmer configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	MaxConcurrency int
	// Timeout per page fetch.
	Timeout time.Duration
	// BufferSize for the page and result channels.
	BufferSize int
}

// DefaultConfig returns safe defaults for feed-sized page ranges.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		BufferSize:     64,
	}
}

// pageResult carries one warmed page out of the worker pool.
type pageResult struct {
	Page   int
	Result feed.PageResult
	Error  error
}

// Warmer fetches a range of feed pages in parallel, ahead of the user
// reaching them. Results land in the shared page cache when one is
// configured, so the next load-more trigger resolves without a source
// round trip.
type Warmer struct {
	source feed.Source
	cache  *cache.Manager
	ttl    time.Duration
	config Config
}

// NewWarmer creates a warmer. The cache manager may be nil, in which case
// warmed pages are only returned to the caller.
func NewWarmer(source feed.Source, cacheManager *cache.Manager, ttl time.Duration, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}

	return &Warmer{
		source: source,
		cache:  cacheManager,
		ttl:    ttl,
		config: config,
	}
}

// WarmRange fetches pages fromPage..toPage inclusive using a worker pool.
// Returns the pages that succeeded, keyed by page number. A worker error
// aborts the remaining queue and is returned along with the partial map.
func (w *Warmer) WarmRange(ctx context.Context, fromPage, toPage, pageSize int) (map[int]feed.PageResult, error) {
	if fromPage < 1 {
		fromPage = 1
	}
	if toPage < fromPage {
		return map[int]feed.PageResult{}, nil
	}

	start := time.Now()
	totalPages := toPage - fromPage + 1

	log.Info().
		Int("from_page", fromPage).
		Int("to_page", toPage).
		Int("page_size", pageSize).
		Msg("Starting page warm")

	results := make(map[int]feed.PageResult)
	resultsMutex := sync.Mutex{}

	pageQueue := make(chan int, w.config.BufferSize)
	pageResults := make(chan pageResult, w.config.BufferSize)
	errors := make(chan error, w.config.MaxConcurrency)

	go func() {
		for page := fromPage; page <= toPage; page++ {
			pageQueue <- page
		}
		close(pageQueue)
	}()

	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go w.worker(ctx, pageSize, pageQueue, pageResults, errors, &wg, i)
	}

	go func() {
		wg.Wait()
		close(pageResults)
		close(errors)
	}()

	warmedPages := 0
	for result := range pageResults {
		if result.Error != nil {
			log.Warn().
				Err(result.Error).
				Int("page", result.Page).
				Msg("Page warm failed")
			continue
		}

		resultsMutex.Lock()
		results[result.Page] = result.Result
		warmedPages++
		resultsMutex.Unlock()
	}

	select {
	case err := <-errors:
		if err != nil {
			log.Warn().
				Err(err).
				Int("warmed_pages", warmedPages).
				Int("total_pages", totalPages).
				Msg("Worker error - returning partial results")
			return results, fmt.Errorf("worker error (partial data: %d/%d pages): %w", warmedPages, totalPages, err)
		}
	default:
	}

	log.Info().
		Int("pages", warmedPages).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Page warm complete")

	return results, nil
}

// worker processes pages from the queue.
func (w *Warmer) worker(ctx context.Context, pageSize int, pageQueue <-chan int, results chan<- pageResult, errors chan<- error, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		result, err := w.source.FetchPage(pageCtx, pageNum, pageSize, nil)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Page warm fetch failed")

			select {
			case errors <- err:
			default:
			}
			return
		}

		w.store(ctx, pageNum, pageSize, result)

		select {
		case results <- pageResult{Page: pageNum, Result: result}:
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled after fetch)")
			return
		}

		pagesProcessed++
	}

	if pagesProcessed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

// store writes a warmed page into the shared cache, when one is configured.
func (w *Warmer) store(ctx context.Context, page, pageSize int, result feed.PageResult) {
	if w.cache == nil {
		return
	}

	key := cache.Key{Page: page, PageSize: pageSize}
	if err := w.cache.Set(ctx, key, cache.NewEntry(result, w.ttl)); err != nil {
		log.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache warmed page")
	}
}
