package loadmore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/feedworks/feedpager/pkg/cache"
	"github.com/feedworks/feedpager/pkg/feed"
	"github.com/feedworks/feedpager/pkg/logging"
	"github.com/feedworks/feedpager/pkg/optimizer"
	"github.com/feedworks/feedpager/pkg/store"
)

// Prometheus metrics for load-more cycles.
var (
	loadTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_load_triggers_total",
		Help: "Load-more triggers by outcome",
	}, []string{"outcome"}) // "started", "busy", "no_more", "throttled"

	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_loads_total",
		Help: "Completed load-more cycles by mode",
	}, []string{"mode"}) // "server", "client"

	loadErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_load_errors_total",
		Help: "Failed load-more cycles by error class",
	}, []string{"class"})

	staleResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_stale_results_discarded_total",
		Help: "Fetches that settled after a filter change and were discarded",
	})

	prefetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_prefetches_total",
		Help: "Background page warms started from scroll signals",
	})
)

// Matcher is the caller-supplied predicate used for client-side filtering.
// The engine applies it to raw items when a search is active and more raw
// data arrives.
type Matcher func(item feed.Item, query string, filters feed.FilterSet) bool

// Config holds the engine configuration.
type Config struct {
	// Source is the paged-query collaborator. Required.
	Source feed.Source

	// ItemsPerPage is the page-window size. 0 uses the store default.
	ItemsPerPage int

	// MaxItems and CleanupThreshold configure the memory governor.
	MaxItems         int
	CleanupThreshold float64

	// Matcher enables client-side re-filtering for ApplySearch and the
	// auto-fetch path. Without one, searches must go through
	// ApplySearchResults.
	Matcher Matcher

	// Optimizer to use; nil creates one with defaults.
	Optimizer *optimizer.Optimizer

	// CacheTTL is the per-request freshness window for the optimizer's
	// result cache. 0 uses the optimizer default.
	CacheTTL time.Duration

	// SharedCache, when set, is consulted and populated around every source
	// fetch so concurrent sessions can share page results.
	SharedCache *cache.Manager

	// SharedCacheTTL is the freshness window for shared cache writes.
	SharedCacheTTL time.Duration

	// Retry controls fetch retry behavior. Zero value uses defaults.
	Retry RetryConfig

	// TriggerRate throttles bursts of load-more triggers (events per
	// second). 0 disables throttling.
	TriggerRate  rate.Limit
	TriggerBurst int
}

// PerformanceMetrics is the diagnostics surface exposed to the UI.
type PerformanceMetrics struct {
	RequestCount     int64
	CacheHitRate     float64
	AverageFetchTime time.Duration
}

// Engine drives the feed: it owns the store, consults the optimizer, and
// sequences load-more cycles through the state machine.
type Engine struct {
	cfg     Config
	source  feed.Source
	store   *store.Store
	opt     *optimizer.Optimizer
	machine *Machine
	limiter *rate.Limiter

	// generation is bumped on every filter change; a fetch that settles
	// under an old generation is discarded rather than merged.
	generation atomic.Int64

	logger zerolog.Logger
}

// New creates an engine. The store starts empty, in server mode.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, errors.New("loadmore: source is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.SharedCache != nil && cfg.SharedCacheTTL <= 0 {
		cfg.SharedCacheTTL = 5 * time.Minute
	}

	opt := cfg.Optimizer
	if opt == nil {
		opt = optimizer.New(optimizer.DefaultConfig())
	}

	limit := cfg.TriggerRate
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.TriggerBurst
	if burst <= 0 {
		burst = 1
	}

	logger := logging.NewLogger("loadmore")

	return &Engine{
		cfg:    cfg,
		source: cfg.Source,
		store: store.New(store.Config{
			ItemsPerPage:     cfg.ItemsPerPage,
			MaxItems:         cfg.MaxItems,
			CleanupThreshold: cfg.CleanupThreshold,
		}),
		opt:     opt,
		machine: NewMachine(logger),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// Store returns the engine's pagination store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// State returns a snapshot of the current pagination state.
func (e *Engine) State() store.State {
	return e.store.State()
}

// Subscribe registers a listener on the underlying store.
func (e *Engine) Subscribe(fn store.Listener) func() {
	return e.store.Subscribe(fn)
}

// Phase returns the machine's current phase, for diagnostics.
func (e *Engine) Phase() Phase {
	return e.machine.Phase()
}

// Metrics returns the performance diagnostics surface.
func (e *Engine) Metrics() PerformanceMetrics {
	stats := e.opt.Stats()
	return PerformanceMetrics{
		RequestCount:     stats.Requests,
		CacheHitRate:     stats.CacheHitRate,
		AverageFetchTime: stats.AverageFetchTime,
	}
}

// LoadInitial fetches the first page and resets the feed to it. A no-op when
// a cycle is already in progress.
func (e *Engine) LoadInitial(ctx context.Context) error {
	if !e.machine.Begin(PhaseLoadingServer) {
		loadTriggersTotal.WithLabelValues("busy").Inc()
		return nil
	}

	e.store.ClearLastError()
	e.store.SetLoading(true)
	gen := e.generation.Load()

	size := e.store.ItemsPerPage()
	result, err := e.fetchServerPage(ctx, 1, size)
	if err != nil {
		e.store.SetLoading(false)
		e.recordFailure(err, "could not load the feed")
		return err
	}

	e.machine.Settle()
	if e.generation.Load() != gen {
		e.discardStale(1)
		e.store.SetLoading(false)
		e.machine.Complete()
		return nil
	}

	e.store.UpdateItems(store.UpdateParams{
		NewItems:        result.Items,
		ResetPagination: true,
		Metadata: &store.Metadata{
			TotalServerItems:  result.TotalCount,
			LoadedServerItems: countAppended(nil, result.Items),
			CurrentBatch:      1,
			LastFetch:         time.Now(),
		},
	})
	e.store.SetLoading(false)
	e.machine.Complete()

	loadsTotal.WithLabelValues("server").Inc()
	e.logger.Info().Int("items", len(result.Items)).Int("total", result.TotalCount).Msg("Initial page loaded")
	return nil
}

// TriggerLoadMore runs one load-more cycle: a server fetch, a client-side
// slice, or a no-op, depending on mode and available data. Concurrent
// triggers while a cycle is pending are no-ops, as are triggers when nothing
// more can be obtained.
func (e *Engine) TriggerLoadMore(ctx context.Context) error {
	if !e.limiter.Allow() {
		loadTriggersTotal.WithLabelValues("throttled").Inc()
		e.logger.Debug().Msg("Trigger throttled")
		return nil
	}

	st := e.store.State()
	if st.Mode == store.ModeClient {
		return e.loadMoreClient(ctx, st)
	}
	return e.loadMoreServer(ctx, st)
}

// loadMoreServer fetches the next page from the source and grows the window.
func (e *Engine) loadMoreServer(ctx context.Context, st store.State) error {
	if !st.HasMore {
		loadTriggersTotal.WithLabelValues("no_more").Inc()
		return nil
	}
	if !e.machine.Begin(PhaseLoadingServer) {
		loadTriggersTotal.WithLabelValues("busy").Inc()
		return nil
	}
	loadTriggersTotal.WithLabelValues("started").Inc()

	// A trigger after a failure doubles as the retry.
	e.store.ClearLastError()
	e.store.SetLoadingMore(true)
	gen := e.generation.Load()

	// Re-read after the guard: a cycle that completed between the trigger's
	// snapshot and Begin would leave st pointing at an already-fetched page.
	st = e.store.State()

	size := e.store.ItemsPerPage()
	loaded := len(st.AllItems)
	if st.Metadata != nil {
		loaded = st.Metadata.LoadedServerItems
	}
	page := loaded/size + 1

	result, err := e.fetchServerPage(ctx, page, size)
	if err != nil {
		e.store.SetLoadingMore(false)
		e.recordFailure(err, "could not load more items")
		return err
	}

	e.machine.Settle()
	if e.generation.Load() != gen {
		e.discardStale(page)
		e.store.SetLoadingMore(false)
		e.machine.Complete()
		return nil
	}

	e.store.UpdateItems(store.UpdateParams{
		NewItems: result.Items,
		Metadata: e.nextMetadata(st, result, countAppended(st.AllItems, result.Items)),
	})
	e.store.AdvancePage()
	e.store.SetLoadingMore(false)
	e.machine.Complete()

	loadsTotal.WithLabelValues("server").Inc()
	e.logger.Debug().Int("page", page).Int("items", len(result.Items)).Msg("Server page merged")
	return nil
}

// loadMoreClient grows the window over the filtered set, auto-fetching more
// raw data when the filtered subset is exhausted but the server has more.
func (e *Engine) loadMoreClient(ctx context.Context, st store.State) error {
	// Enough client data: a synchronous slice, no network.
	if st.CurrentPage < st.TotalPages {
		if !e.machine.Begin(PhaseLoadingClient) {
			loadTriggersTotal.WithLabelValues("busy").Inc()
			return nil
		}
		loadTriggersTotal.WithLabelValues("started").Inc()

		e.store.SetLoadingMore(true)
		e.machine.Settle()
		e.store.AdvancePage()
		e.store.SetLoadingMore(false)
		e.machine.Complete()

		loadsTotal.WithLabelValues("client").Inc()
		return nil
	}

	// Insufficient filtered data; grow the raw set if the server has more.
	md := st.Metadata
	if md == nil || md.LoadedServerItems >= md.TotalServerItems {
		loadTriggersTotal.WithLabelValues("no_more").Inc()
		return nil
	}
	if e.cfg.Matcher == nil {
		// Raw data cannot be re-filtered without a matcher.
		e.logger.Debug().Msg("Auto-fetch skipped, no matcher configured")
		loadTriggersTotal.WithLabelValues("no_more").Inc()
		return nil
	}
	if !e.machine.Begin(PhaseLoadingServer) {
		loadTriggersTotal.WithLabelValues("busy").Inc()
		return nil
	}
	loadTriggersTotal.WithLabelValues("started").Inc()

	e.store.ClearLastError()
	e.store.SetLoadingMore(true)
	gen := e.generation.Load()

	// Re-read after the guard so the page math sees any cycle that
	// completed between the trigger's snapshot and Begin.
	st = e.store.State()
	if st.Metadata != nil {
		md = st.Metadata
	}

	// Batch size adapts to observed network conditions. The page is
	// floor-aligned on the batch size: a fetch may overlap items already
	// loaded, but its tail always extends past LoadedServerItems, so a
	// batch-size change between fetches cannot skip offsets. The store
	// dedups the overlap on merge and only unique appends count as
	// progress.
	size := optimizer.OptimizeBatchSize(md.LoadedServerItems, md.TotalServerItems, e.opt.Tracker().Condition())
	page := md.LoadedServerItems/size + 1

	result, err := e.fetchServerPage(ctx, page, size)
	if err != nil {
		e.store.SetLoadingMore(false)
		e.recordFailure(err, "could not load more results")
		return err
	}

	e.machine.Settle()
	if e.generation.Load() != gen {
		e.discardStale(page)
		e.store.SetLoadingMore(false)
		e.machine.Complete()
		return nil
	}

	e.store.UpdateItems(store.UpdateParams{
		NewItems: result.Items,
		Metadata: e.nextMetadata(st, result, countAppended(st.AllItems, result.Items)),
	})

	// Re-filter the grown raw set and re-slice, preserving the window.
	refreshed := e.store.State()
	matches := e.filterItems(refreshed.AllItems, refreshed.ActiveQuery, refreshed.ActiveFilters)
	e.store.RefreshSearch(matches)
	e.store.AdvancePage()
	e.store.SetLoadingMore(false)
	e.machine.Complete()

	loadsTotal.WithLabelValues("client").Inc()
	e.logger.Debug().
		Int("fetched", len(result.Items)).
		Int("matches", len(matches)).
		Msg("Auto-fetched and re-filtered")
	return nil
}

// ScrollSignal describes where the user is in the feed and how they are
// moving through it.
type ScrollSignal struct {
	// CurrentIndex is the index of the item currently in view.
	CurrentIndex int

	// ScrollVelocity is measured in items per second.
	ScrollVelocity float64

	// TimeOnPage is how long the current page window has been displayed.
	TimeOnPage time.Duration
}

// MaybePrefetch warms the next server page in the background when the scroll
// signal suggests the user will need it soon. Returns true when a warm was
// started. The warmed page lands in the optimizer cache, so the following
// trigger resolves without a source round trip.
func (e *Engine) MaybePrefetch(sig ScrollSignal) bool {
	st := e.store.State()
	if st.Mode != store.ModeServer || !st.HasMore {
		return false
	}
	if !optimizer.ShouldPrefetch(sig.CurrentIndex, len(st.AllItems), sig.ScrollVelocity, sig.TimeOnPage) {
		return false
	}

	size := e.store.ItemsPerPage()
	loaded := len(st.AllItems)
	if st.Metadata != nil {
		loaded = st.Metadata.LoadedServerItems
	}
	page := loaded/size + 1

	prefetchesTotal.Inc()
	e.logger.Debug().Int("page", page).Msg("Prefetching next page")

	go func() {
		if _, err := e.fetchServerPage(context.Background(), page, size); err != nil {
			e.logger.Debug().Err(err).Int("page", page).Msg("Prefetch failed")
		}
	}()
	return true
}

// ApplySearch filters the loaded items with the configured matcher and
// switches the feed to client mode. Any in-flight fetch that settles after
// this call is discarded.
func (e *Engine) ApplySearch(query string, filters feed.FilterSet) error {
	if e.cfg.Matcher == nil {
		return errors.New("loadmore: no matcher configured, use ApplySearchResults")
	}

	e.generation.Add(1)
	st := e.store.State()
	results := e.filterItems(st.AllItems, query, filters)
	e.store.UpdateSearch(results, query, filters)

	e.logger.Info().
		Str("query", query).
		Str("filters", filters.Key()).
		Int("matches", len(results)).
		Msg("Search applied")
	return nil
}

// ApplySearchResults installs externally computed search results (e.g. from
// a server-side search endpoint) and switches to client mode.
func (e *Engine) ApplySearchResults(results []feed.Item, query string, filters feed.FilterSet) {
	e.generation.Add(1)
	e.store.UpdateSearch(results, query, filters)
}

// ClearFilters drops the active search and returns to server mode.
func (e *Engine) ClearFilters() {
	e.generation.Add(1)
	e.store.ClearSearch()
	e.logger.Info().Msg("Filters cleared")
}

// fetchServerPage fetches one page through the optimizer, with retry on
// transient failures and an optional shared cache around the source.
func (e *Engine) fetchServerPage(ctx context.Context, page, size int) (feed.PageResult, error) {
	// Fetches are always for raw feed data; filtering happens client-side,
	// so the request key is page geometry only.
	key := fmt.Sprintf("page:%d:size:%d", page, size)

	var result feed.PageResult
	err := retryWithBackoff(ctx, e.cfg.Retry, e.logger, func() error {
		var doErr error
		result, doErr = e.opt.Do(ctx, key, e.cfg.CacheTTL, func(pctx context.Context) (feed.PageResult, error) {
			return e.producePage(pctx, page, size)
		})
		return doErr
	})
	if err != nil {
		return feed.PageResult{}, err
	}
	return result, nil
}

// producePage is the optimizer producer: shared cache first, then the source.
func (e *Engine) producePage(ctx context.Context, page, size int) (feed.PageResult, error) {
	ckey := cache.Key{Page: page, PageSize: size}
	if e.cfg.SharedCache != nil {
		entry, err := e.cfg.SharedCache.Get(ctx, ckey)
		if err == nil {
			e.logger.Debug().Str("key", ckey.String()).Bool("cache_hit", true).Msg("Shared cache hit")
			return entry.Result(), nil
		}
		if err != cache.ErrCacheMiss {
			e.logger.Warn().Err(err).Msg("Shared cache get error")
		}
	}

	result, err := e.source.FetchPage(ctx, page, size, nil)
	if err != nil {
		return feed.PageResult{}, err
	}

	if e.cfg.SharedCache != nil {
		if err := e.cfg.SharedCache.Set(ctx, ckey, cache.NewEntry(result, e.cfg.SharedCacheTTL)); err != nil {
			e.logger.Warn().Err(err).Msg("Shared cache set error")
		}
	}
	return result, nil
}

// nextMetadata folds a fetch result into the fetch-progress metadata.
// LoadedServerItems tracks contiguous coverage of the raw stream, so only
// items not seen before count toward it. Counting a re-fetched overlap
// would push the cursor past offsets that were never loaded.
func (e *Engine) nextMetadata(st store.State, result feed.PageResult, appended int) *store.Metadata {
	md := store.Metadata{}
	if st.Metadata != nil {
		md = *st.Metadata
	}
	md.TotalServerItems = result.TotalCount
	md.LoadedServerItems += appended
	if md.LoadedServerItems > md.TotalServerItems {
		md.LoadedServerItems = md.TotalServerItems
	}
	md.CurrentBatch++
	md.LastFetch = time.Now()
	return &md
}

// countAppended reports how many of items are absent from current and will
// survive the store's merge dedup.
func countAppended(current, items []feed.Item) int {
	seen := make(map[string]struct{}, len(current))
	for _, it := range current {
		seen[it.ID] = struct{}{}
	}
	appended := 0
	for _, it := range items {
		if _, ok := seen[it.ID]; !ok {
			seen[it.ID] = struct{}{}
			appended++
		}
	}
	return appended
}

func (e *Engine) filterItems(items []feed.Item, query string, filters feed.FilterSet) []feed.Item {
	matches := make([]feed.Item, 0, len(items))
	for _, it := range items {
		if e.cfg.Matcher(it, query, filters) {
			matches = append(matches, it)
		}
	}
	return matches
}

// recordFailure surfaces a fetch failure: the prior item set is untouched,
// the error is summarized for the UI, and the machine returns to idle so the
// next user-initiated retry is a plain trigger.
func (e *Engine) recordFailure(err error, summary string) {
	class := feed.Classify(err)
	loadErrorsTotal.WithLabelValues(string(class)).Inc()

	e.store.SetLastError(fmt.Sprintf("%s: %v", summary, err))
	e.machine.Fail()
	e.machine.Acknowledge()

	e.logger.Error().
		Err(err).
		Str("error_class", string(class)).
		Msg("Load-more cycle failed")
}

func (e *Engine) discardStale(page int) {
	staleResultsTotal.Inc()
	e.logger.Warn().Int("page", page).Msg("Discarded stale results after filter change")
}
