package domain

import "time"

// ResourceType groups cached resources that share a freshness policy.
type ResourceType string

const (
	ResourceManifest    ResourceType = "manifest"
	ResourceCatalog     ResourceType = "catalog"
	ResourceMetadata    ResourceType = "metadata"
	ResourceConditional ResourceType = "http_headers"
)

// ConditionalMeta holds the validators needed for a conditional request.
type ConditionalMeta struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// Empty reports whether neither validator is present.
func (m ConditionalMeta) Empty() bool {
	return m.ETag == "" && m.LastModified == ""
}

// CacheEventType names a tier transition.
type CacheEventType string

const (
	CacheHitMemory  CacheEventType = "hit_memory"
	CacheHitDisk    CacheEventType = "hit_disk"
	CacheMiss       CacheEventType = "miss"
	CachePromote    CacheEventType = "promote"
	CacheEvict      CacheEventType = "evict"
	CacheExpire     CacheEventType = "expire"
	CacheCorrupt    CacheEventType = "corrupt"
	CacheRevalidate CacheEventType = "revalidate"
)

// CacheEvent describes one tier transition for diagnostics.
type CacheEvent struct {
	Type     CacheEventType
	Resource ResourceType
	Key      string
	At       time.Time
}

// CacheObserver receives cache events. Implementations must not block.
type CacheObserver interface {
	OnCacheEvent(event CacheEvent)
}

// CacheObserverFunc adapts a function to CacheObserver.
type CacheObserverFunc func(CacheEvent)

func (f CacheObserverFunc) OnCacheEvent(e CacheEvent) { f(e) }
