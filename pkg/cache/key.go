package cache

import (
	"fmt"
	"strings"

	"github.com/feedworks/feedpager/pkg/feed"
)

// Key represents a unique identifier for a cached feed page.
type Key struct {
	// Query is the active search query, empty for the unfiltered feed.
	Query string

	// Filters is the active filter descriptor (compared by its Key).
	Filters feed.FilterSet

	// Page is the page number, starting at 1.
	Page int

	// PageSize is the page-window size the page was fetched with.
	PageSize int
}

// String generates a deterministic cache key string.
// Format: feed:q=<query>:<filter1=val1:filter2=val2>:page=N:size=M
//
// Example:
//
//	feed:q=synthwave:genre=electronic:page=2:size=15
func (k Key) String() string {
	parts := []string{"feed"}

	if k.Query != "" {
		parts = append(parts, "q="+k.Query)
	}

	// FilterSet.Key already sorts entries for determinism.
	if fk := k.Filters.Key(); fk != "" {
		parts = append(parts, fk)
	}

	parts = append(parts,
		fmt.Sprintf("page=%d", k.Page),
		fmt.Sprintf("size=%d", k.PageSize),
	)

	return strings.Join(parts, ":")
}
