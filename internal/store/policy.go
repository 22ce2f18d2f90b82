package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mmcdole/kinosync/internal/domain"
)

const day = 24 * time.Hour

// Policy is the table of freshness windows per resource type.
type Policy struct {
	Manifest    time.Duration
	Catalog     time.Duration
	Conditional time.Duration

	// Metadata windows are chosen per document from its release year
	MetadataRecent  time.Duration // current or prior year
	MetadataOld     time.Duration
	MetadataUnknown time.Duration
}

// DefaultPolicy returns the stock freshness table.
func DefaultPolicy() Policy {
	return Policy{
		Manifest:        24 * time.Hour,
		Catalog:         6 * time.Hour,
		Conditional:     365 * day,
		MetadataRecent:  7 * day,
		MetadataOld:     90 * day,
		MetadataUnknown: 30 * day,
	}
}

// TTL returns the fixed window for t. Metadata has no fixed window; use
// MetadataTTL with the document instead.
func (p Policy) TTL(t domain.ResourceType) time.Duration {
	switch t {
	case domain.ResourceManifest:
		return p.Manifest
	case domain.ResourceCatalog:
		return p.Catalog
	case domain.ResourceConditional:
		return p.Conditional
	default:
		return p.MetadataUnknown
	}
}

// MaxTTL returns the longest window the policy can grant to a payload.
func (p Policy) MaxTTL() time.Duration {
	return max(p.Manifest, p.Catalog, p.MetadataRecent, p.MetadataOld, p.MetadataUnknown)
}

// Retention returns the sweep age to use for a configured maximum. It is
// never shorter than MaxTTL so a sweep cannot remove an entry that a reader
// would still serve as fresh.
func (p Policy) Retention(maxAge time.Duration) time.Duration {
	return max(maxAge, p.MaxTTL())
}

// MetadataTTL computes the window for a metadata document from its release
// year. It is evaluated on every access so documents age into longer windows.
func (p Policy) MetadataTTL(payload []byte, now time.Time) time.Duration {
	year, ok := releaseYear(payload)
	if !ok {
		return p.MetadataUnknown
	}
	if year >= now.Year()-1 {
		return p.MetadataRecent
	}
	return p.MetadataOld
}

// metaDoc matches both {"meta": {...}} add-on responses and bare documents.
type metaDoc struct {
	Meta *struct {
		Year        json.RawMessage `json:"year"`
		ReleaseInfo string          `json:"releaseInfo"`
	} `json:"meta"`
	Year json.RawMessage `json:"year"`
}

func releaseYear(payload []byte) (int, bool) {
	var doc metaDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return 0, false
	}
	if doc.Meta != nil {
		if y, ok := parseYear(doc.Meta.Year); ok {
			return y, true
		}
		if y, ok := leadingYear(doc.Meta.ReleaseInfo); ok {
			return y, true
		}
	}
	return parseYear(doc.Year)
}

// parseYear accepts 2019, "2019" and ranges like "2019-2021".
func parseYear(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, n > 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return leadingYear(s)
	}
	return 0, false
}

func leadingYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:4])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
