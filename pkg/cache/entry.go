package cache

import (
	"time"

	"github.com/feedworks/feedpager/pkg/feed"
)

// Entry represents a cached feed page.
type Entry struct {
	// Items are the page's entries.
	Items []feed.Item `json:"items"`

	// TotalCount is the server-side universe size at fetch time.
	TotalCount int `json:"total_count"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the page was cached.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry builds an entry from a page result with the given freshness window.
func NewEntry(result feed.PageResult, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Items:      result.Items,
		TotalCount: result.TotalCount,
		Expires:    now.Add(ttl),
		CachedAt:   now,
	}
}

// Result converts the entry back to a page result.
func (e *Entry) Result() feed.PageResult {
	return feed.PageResult{
		Items:      e.Items,
		TotalCount: e.TotalCount,
	}
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
