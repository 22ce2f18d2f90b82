package resource

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mmcdole/kinosync/internal/domain"
)

// Add-on resource keys double as request paths.

// ManifestKey is the key of the add-on manifest.
const ManifestKey = "/manifest.json"

// CatalogKey builds the key of one catalog page. Filters are Stremio extra
// arguments ("genre", "skip", "search") and are encoded in sorted order so
// equal filters share a cache entry.
func CatalogKey(contentType, catalogID string, filters map[string]string) string {
	extra := encodeExtra(filters)
	if extra == "" {
		return fmt.Sprintf("/catalog/%s/%s.json", contentType, catalogID)
	}
	return fmt.Sprintf("/catalog/%s/%s/%s.json", contentType, catalogID, extra)
}

// MetaKey builds the key of a metadata document.
func MetaKey(contentType, id string) string {
	return fmt.Sprintf("/meta/%s/%s.json", contentType, id)
}

func encodeExtra(filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k, v := range filters {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + url.PathEscape(filters[k])
	}
	return strings.Join(parts, "&")
}

// CatalogItem is one entry of a catalog page.
type CatalogItem struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	ReleaseInfo string `json:"releaseInfo,omitempty"`
	Poster      string `json:"poster,omitempty"`
}

type catalogPage struct {
	Metas []CatalogItem `json:"metas"`
}

// Catalog is a decoded catalog page.
type Catalog struct {
	Items []CatalogItem
	Stale bool
}

// GetManifest returns the add-on manifest.
func (r *Reader) GetManifest(ctx context.Context) (Result, error) {
	return r.Fetch(ctx, domain.ResourceManifest, ManifestKey)
}

// GetCatalog returns a decoded catalog page.
func (r *Reader) GetCatalog(ctx context.Context, contentType, catalogID string, filters map[string]string) (Catalog, error) {
	res, err := r.Fetch(ctx, domain.ResourceCatalog, CatalogKey(contentType, catalogID, filters))
	if err != nil {
		return Catalog{}, err
	}
	var page catalogPage
	if err := json.Unmarshal(res.Payload, &page); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog %s/%s: %w", contentType, catalogID, err)
	}
	return Catalog{Items: page.Metas, Stale: res.Stale}, nil
}

// GetMetadata returns a metadata document. The payload is returned as
// received; callers decode the fields they need.
func (r *Reader) GetMetadata(ctx context.Context, contentType, id string) (Result, error) {
	return r.Fetch(ctx, domain.ResourceMetadata, MetaKey(contentType, id))
}
