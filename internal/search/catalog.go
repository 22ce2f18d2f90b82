package search

import (
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/kinosync/internal/resource"
)

// CatalogMatch is a catalog item matching a filter query.
type CatalogMatch struct {
	Item           resource.CatalogItem
	MatchedIndexes []int // Character positions that matched
	Score          int   // higher is better
}

// catalogIndex implements sahilm/fuzzy.Source over catalog item names.
type catalogIndex []resource.CatalogItem

func (c catalogIndex) String(i int) string { return c[i].Name }
func (c catalogIndex) Len() int            { return len(c) }

// FilterCatalog narrows a fetched catalog page to items whose names match
// query, best match first. An empty query keeps every item in page order.
func FilterCatalog(query string, items []resource.CatalogItem) []CatalogMatch {
	if query == "" {
		out := make([]CatalogMatch, len(items))
		for i, item := range items {
			out[i] = CatalogMatch{Item: item}
		}
		return out
	}

	matches := fuzzy.FindFrom(query, catalogIndex(items))
	out := make([]CatalogMatch, len(matches))
	for i, m := range matches {
		out[i] = CatalogMatch{
			Item:           items[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}
	return out
}
