// Package store implements the pagination state store: the single source of
// truth for the feed's item set, page window, filter state and loading flags.
// All mutation goes through the Store; observers are notified synchronously
// after each mutation.
package store

import (
	"time"

	"github.com/feedworks/feedpager/pkg/feed"
)

// Mode selects how the feed grows.
type Mode string

const (
	// ModeServer pages over the full item set; growth comes from fetches.
	ModeServer Mode = "server"

	// ModeClient pages over a filtered subset; growth comes from re-slicing
	// already-held data, or from fetching more raw data to re-filter.
	ModeClient Mode = "client"
)

// Metadata tracks how much of the server-side universe has been pulled,
// independent of any active filter.
type Metadata struct {
	// TotalServerItems is the size of the server-side universe.
	TotalServerItems int `json:"total_server_items"`

	// LoadedServerItems is how many raw items have been fetched so far.
	LoadedServerItems int `json:"loaded_server_items"`

	// CurrentBatch counts completed fetch batches this session.
	CurrentBatch int `json:"current_batch"`

	// LastFetch is when the most recent fetch completed.
	LastFetch time.Time `json:"last_fetch"`
}

// State is the pagination aggregate. Snapshots returned by Store.State are
// copies; mutating them does not affect the store.
type State struct {
	// AllItems is every item loaded this session, unique by ID, in arrival
	// order, subject to memory governor eviction.
	AllItems []feed.Item

	// DisplayItems is AllItems when no filter is active, otherwise the
	// active filtered/search result set.
	DisplayItems []feed.Item

	// PaginatedItems is the visible window: DisplayItems up to and including
	// the current page boundary. Load-more is cumulative; earlier pages stay
	// visible once loaded.
	PaginatedItems []feed.Item

	CurrentPage int
	TotalPages  int

	// HasMore is true when more items can be obtained, by slicing further
	// client-side or by fetching from the server.
	HasMore bool

	Mode           Mode
	IsFilterActive bool
	ActiveFilters  feed.FilterSet
	ActiveQuery    string

	Metadata *Metadata

	IsLoading     bool
	IsLoadingMore bool

	// LastError is a human-readable summary of the most recent fetch
	// failure, empty when the last operation succeeded.
	LastError string
}

// clone returns a deep-enough copy: slices and metadata are duplicated so a
// snapshot cannot be mutated out from under the store.
func (s State) clone() State {
	out := s
	out.AllItems = append([]feed.Item(nil), s.AllItems...)
	out.DisplayItems = append([]feed.Item(nil), s.DisplayItems...)
	out.PaginatedItems = append([]feed.Item(nil), s.PaginatedItems...)
	if s.Metadata != nil {
		md := *s.Metadata
		out.Metadata = &md
	}
	if s.ActiveFilters != nil {
		out.ActiveFilters = make(feed.FilterSet, len(s.ActiveFilters))
		for k, v := range s.ActiveFilters {
			out.ActiveFilters[k] = v
		}
	}
	return out
}
