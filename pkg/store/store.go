package store

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/feedworks/feedpager/pkg/feed"
	"github.com/feedworks/feedpager/pkg/logging"
)

// Prometheus metrics for store operations.
var (
	feedItemsHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_items_held",
		Help: "Number of items currently held in the session item set",
	})

	feedStateRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_state_repairs_total",
		Help: "Total invariant violations repaired by ValidateAndRecover",
	}, []string{"violation"})

	feedNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_store_notifications_total",
		Help: "Total subscriber notifications fanned out by the store",
	})
)

// Config holds store configuration.
type Config struct {
	// ItemsPerPage is the page-window size.
	ItemsPerPage int

	// MaxItems is the memory governor's item ceiling. 0 uses the default.
	MaxItems int

	// CleanupThreshold in (0,1] controls how far below MaxItems the governor
	// trims on a breach, to avoid re-trimming on every append.
	CleanupThreshold float64
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		ItemsPerPage:     15,
		MaxItems:         500,
		CleanupThreshold: 0.8,
	}
}

// Listener receives a state snapshot after every mutation.
type Listener func(State)

// Store is the sole mutator of the pagination state. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	governor *Governor
	state    State
	seen     map[string]struct{}

	subMu   sync.Mutex
	subs    map[int]Listener
	nextSub int

	logger zerolog.Logger
}

// New creates a store with empty collections in server mode.
func New(cfg Config) *Store {
	if cfg.ItemsPerPage <= 0 {
		cfg.ItemsPerPage = DefaultConfig().ItemsPerPage
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultConfig().MaxItems
	}
	if cfg.CleanupThreshold <= 0 || cfg.CleanupThreshold > 1 {
		cfg.CleanupThreshold = DefaultConfig().CleanupThreshold
	}

	logger := logging.NewLogger("store")

	return &Store{
		cfg:      cfg,
		governor: NewGovernor(cfg.MaxItems, cfg.CleanupThreshold, logger),
		state: State{
			CurrentPage: 1,
			Mode:        ModeServer,
		},
		seen:   make(map[string]struct{}),
		subs:   make(map[int]Listener),
		logger: logger,
	}
}

// ItemsPerPage returns the configured page-window size.
func (s *Store) ItemsPerPage() int {
	return s.cfg.ItemsPerPage
}

// State returns a read-only snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers a listener invoked with the new state after every
// mutation. The returned function removes the listener.
func (s *Store) Subscribe(fn Listener) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// notify fans out a snapshot to all subscribers. Must be called without the
// state mutex held so listeners may read back through the store.
func (s *Store) notify(snapshot State) {
	s.subMu.Lock()
	listeners := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()

	for _, fn := range listeners {
		feedNotificationsTotal.Inc()
		fn(snapshot)
	}
}

// UpdateParams describes an item-set mutation.
type UpdateParams struct {
	// NewItems to merge into the session item set.
	NewItems []feed.Item

	// ResetPagination replaces the item set and returns to page 1 instead of
	// appending.
	ResetPagination bool

	// Metadata, when non-nil, replaces the fetch-progress metadata.
	Metadata *Metadata
}

// UpdateItems merges items into AllItems. Appends skip IDs already present,
// preserving arrival order; idempotent re-fetch is expected behavior, so
// duplicates are dropped silently. The memory governor runs after the merge.
// Mode stays client while a filter is active: filter wins until cleared.
func (s *Store) UpdateItems(params UpdateParams) {
	s.mu.Lock()

	if params.ResetPagination {
		s.state.AllItems = lo.UniqBy(params.NewItems, func(it feed.Item) string { return it.ID })
		s.seen = make(map[string]struct{}, len(s.state.AllItems))
		for _, it := range s.state.AllItems {
			s.seen[it.ID] = struct{}{}
		}
		s.state.CurrentPage = 1
	} else {
		appended := 0
		for _, it := range params.NewItems {
			if _, dup := s.seen[it.ID]; dup {
				continue
			}
			s.seen[it.ID] = struct{}{}
			s.state.AllItems = append(s.state.AllItems, it)
			appended++
		}
		if appended < len(params.NewItems) {
			s.logger.Debug().
				Int("items", len(params.NewItems)).
				Int("appended", appended).
				Msg("Skipped duplicate items on merge")
		}
	}

	// Eviction must not touch the visible window.
	visible := make(map[string]struct{}, len(s.state.PaginatedItems))
	for _, it := range s.state.PaginatedItems {
		visible[it.ID] = struct{}{}
	}
	trimmed := s.governor.Optimize(s.state.AllItems, visible)
	if len(trimmed) != len(s.state.AllItems) {
		s.state.AllItems = trimmed
		s.seen = make(map[string]struct{}, len(trimmed))
		for _, it := range trimmed {
			s.seen[it.ID] = struct{}{}
		}
	}

	if params.Metadata != nil {
		md := *params.Metadata
		s.state.Metadata = &md
	}

	if !s.state.IsFilterActive {
		s.state.Mode = ModeServer
		s.state.DisplayItems = s.state.AllItems
	}

	s.recompute()
	feedItemsHeld.Set(float64(len(s.state.AllItems)))

	snapshot := s.state.clone()
	s.mu.Unlock()

	s.notify(snapshot)
}

// UpdateSearch installs a filtered/search result set as the display set and
// switches to client mode. AllItems is left untouched.
func (s *Store) UpdateSearch(results []feed.Item, query string, filters feed.FilterSet) {
	s.mu.Lock()

	s.state.IsFilterActive = true
	s.state.Mode = ModeClient
	s.state.ActiveQuery = query
	s.state.ActiveFilters = filters
	s.state.DisplayItems = lo.UniqBy(results, func(it feed.Item) string { return it.ID })
	s.state.CurrentPage = 1
	s.recompute()

	s.logger.Debug().
		Str("query", query).
		Str("filters", filters.Key()).
		Int("items", len(s.state.DisplayItems)).
		Msg("Search results installed")

	snapshot := s.state.clone()
	s.mu.Unlock()

	s.notify(snapshot)
}

// RefreshSearch replaces the filtered display set without resetting the page
// window. Used when more raw data arrives mid-search and is re-filtered: the
// user's position in the results is preserved. No-op unless a filter is
// active.
func (s *Store) RefreshSearch(results []feed.Item) {
	s.mu.Lock()

	if !s.state.IsFilterActive {
		s.mu.Unlock()
		return
	}

	s.state.DisplayItems = lo.UniqBy(results, func(it feed.Item) string { return it.ID })
	s.recompute()

	snapshot := s.state.clone()
	s.mu.Unlock()

	s.notify(snapshot)
}

// ClearSearch drops the active filter and returns to server mode over the
// full item set, back at page 1.
func (s *Store) ClearSearch() {
	s.mu.Lock()

	s.state.IsFilterActive = false
	s.state.Mode = ModeServer
	s.state.ActiveQuery = ""
	s.state.ActiveFilters = nil
	s.state.DisplayItems = s.state.AllItems
	s.state.CurrentPage = 1
	s.recompute()

	snapshot := s.state.clone()
	s.mu.Unlock()

	s.notify(snapshot)
}

// AdvancePage grows the visible window by one page of DisplayItems. Returns
// false without mutation when no further page exists.
func (s *Store) AdvancePage() bool {
	s.mu.Lock()

	if s.state.CurrentPage >= s.state.TotalPages {
		s.mu.Unlock()
		return false
	}

	s.state.CurrentPage++
	s.recompute()

	snapshot := s.state.clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return true
}

// SetLoading sets the initial-load flag.
func (s *Store) SetLoading(loading bool) {
	s.setFlags(func(st *State) { st.IsLoading = loading })
}

// SetLoadingMore sets the incremental-load flag.
func (s *Store) SetLoadingMore(loading bool) {
	s.setFlags(func(st *State) { st.IsLoadingMore = loading })
}

// SetLastError records a transient fetch failure summary for the UI.
func (s *Store) SetLastError(msg string) {
	s.setFlags(func(st *State) { st.LastError = msg })
}

// ClearLastError acknowledges the last failure.
func (s *Store) ClearLastError() {
	s.setFlags(func(st *State) { st.LastError = "" })
}

func (s *Store) setFlags(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state.clone()
	s.mu.Unlock()

	s.notify(snapshot)
}

// ValidateAndRecover re-checks the state invariants, repairing any violation
// in place. Returns whether the state was valid before repair. Violations are
// programmer errors; they are healed and logged rather than surfaced, since a
// broken feed view is worse than a self-healed one.
func (s *Store) ValidateAndRecover() bool {
	s.mu.Lock()

	valid := true
	repair := func(violation string) {
		valid = false
		feedStateRepairsTotal.WithLabelValues(violation).Inc()
		s.logger.Warn().Str("violation", violation).Msg("State invariant repaired")
	}

	if dup := lo.FindDuplicatesBy(s.state.AllItems, func(it feed.Item) string { return it.ID }); len(dup) > 0 {
		repair("duplicate_ids")
		s.state.AllItems = lo.UniqBy(s.state.AllItems, func(it feed.Item) string { return it.ID })
		s.seen = make(map[string]struct{}, len(s.state.AllItems))
		for _, it := range s.state.AllItems {
			s.seen[it.ID] = struct{}{}
		}
		if !s.state.IsFilterActive {
			s.state.DisplayItems = s.state.AllItems
		}
	}

	if s.state.IsFilterActive != (s.state.Mode == ModeClient) {
		repair("mode_filter_mismatch")
		if s.state.IsFilterActive {
			s.state.Mode = ModeClient
		} else {
			s.state.Mode = ModeServer
			s.state.DisplayItems = s.state.AllItems
		}
	}

	if want := totalPages(len(s.state.DisplayItems), s.cfg.ItemsPerPage); s.state.TotalPages != want {
		repair("total_pages")
	}

	if s.state.CurrentPage < 1 {
		repair("current_page_low")
		s.state.CurrentPage = 1
	}
	if tp := totalPages(len(s.state.DisplayItems), s.cfg.ItemsPerPage); tp > 0 && s.state.CurrentPage > tp {
		repair("current_page_high")
		s.state.CurrentPage = tp
	}

	if want := windowLen(len(s.state.DisplayItems), s.state.CurrentPage, s.cfg.ItemsPerPage); len(s.state.PaginatedItems) != want {
		repair("window_length")
	}

	s.recompute()

	snapshot := s.state.clone()
	s.mu.Unlock()

	if !valid {
		s.notify(snapshot)
	}
	return valid
}

// recompute derives TotalPages, PaginatedItems and HasMore from DisplayItems
// and CurrentPage. Caller must hold the mutex.
func (s *Store) recompute() {
	per := s.cfg.ItemsPerPage

	s.state.TotalPages = totalPages(len(s.state.DisplayItems), per)

	if s.state.CurrentPage < 1 {
		s.state.CurrentPage = 1
	}
	if s.state.TotalPages > 0 && s.state.CurrentPage > s.state.TotalPages {
		s.state.CurrentPage = s.state.TotalPages
	}

	end := windowLen(len(s.state.DisplayItems), s.state.CurrentPage, per)
	s.state.PaginatedItems = s.state.DisplayItems[:end]

	s.state.HasMore = s.computeHasMore()
}

func (s *Store) computeHasMore() bool {
	// More display pages to slice.
	if s.state.CurrentPage*s.cfg.ItemsPerPage < len(s.state.DisplayItems) {
		return true
	}
	// Otherwise, growth depends on the server universe.
	if md := s.state.Metadata; md != nil {
		return md.LoadedServerItems < md.TotalServerItems
	}
	// No metadata yet: the server universe is unknown, assume fetchable.
	return s.state.Mode == ModeServer
}

func totalPages(displayLen, per int) int {
	if displayLen == 0 {
		return 0
	}
	return (displayLen + per - 1) / per
}

// windowLen is the cumulative window size: everything up to and including the
// current page boundary.
func windowLen(displayLen, page, per int) int {
	end := page * per
	if end > displayLen {
		end = displayLen
	}
	if end < 0 {
		end = 0
	}
	return end
}

// DescribeWindow renders the current window position, for diagnostics.
func (s *Store) DescribeWindow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("page %d/%d, showing %d of %d (%s)",
		s.state.CurrentPage, s.state.TotalPages,
		len(s.state.PaginatedItems), len(s.state.DisplayItems), s.state.Mode)
}
