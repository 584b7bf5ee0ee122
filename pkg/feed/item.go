// Package feed defines the shared domain types of the pagination engine:
// opaque feed items, page fetch results, the paged-source contract, and the
// error taxonomy used across packages.
package feed

import (
	"context"
	"encoding/json"
)

// Item is an opaque feed entry. The engine only ever reads ID; Payload is
// carried through untouched so callers can round-trip arbitrary entry data.
type Item struct {
	// ID uniquely identifies the entry within a feed session.
	ID string `json:"id"`

	// Payload is the caller-owned entry body. Never inspected by the engine.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PageResult is the outcome of fetching a single page from a Source.
type PageResult struct {
	// Items are the entries of the page, in the caller's desired order.
	Items []Item `json:"items"`

	// TotalCount is the size of the server-side universe for the query,
	// independent of how much has been fetched so far.
	TotalCount int `json:"total_count"`
}

// Source is the paged-query collaborator the engine fetches from.
// Implementations return items in the order they should be displayed.
type Source interface {
	// FetchPage fetches one page. Page numbering starts at 1.
	FetchPage(ctx context.Context, page, pageSize int, filters FilterSet) (PageResult, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context, page, pageSize int, filters FilterSet) (PageResult, error)

// FetchPage implements Source.
func (f SourceFunc) FetchPage(ctx context.Context, page, pageSize int, filters FilterSet) (PageResult, error) {
	return f(ctx, page, pageSize, filters)
}
