package store

import (
	"testing"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPolicy_FixedWindows(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 24*time.Hour, p.TTL(domain.ResourceManifest))
	assert.Equal(t, 6*time.Hour, p.TTL(domain.ResourceCatalog))
	assert.Equal(t, 365*day, p.TTL(domain.ResourceConditional))
	assert.Equal(t, 90*day, p.MaxTTL())
}

func TestPolicy_MetadataTTL(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    time.Duration
	}{
		{"current year", `{"meta":{"year":2026}}`, 7 * day},
		{"prior year", `{"meta":{"year":2025}}`, 7 * day},
		{"older", `{"meta":{"year":1999}}`, 90 * day},
		{"string year", `{"meta":{"year":"2026"}}`, 7 * day},
		{"series range", `{"meta":{"year":"2011-2019"}}`, 90 * day},
		{"release info fallback", `{"meta":{"releaseInfo":"2025-"}}`, 7 * day},
		{"bare document", `{"year":2003}`, 90 * day},
		{"no year", `{"meta":{"name":"x"}}`, 30 * day},
		{"not json", `garbage`, 30 * day},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.MetadataTTL([]byte(tt.payload), now))
		})
	}
}

func TestPolicy_RetentionCoversFreshnessWindows(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 90*day, p.Retention(30*day))
	assert.Equal(t, 200*day, p.Retention(200*day))

	p.Catalog = 120 * day
	assert.Equal(t, 120*day, p.Retention(30*day))
}

func TestPolicy_MetadataAgesIntoLongerWindow(t *testing.T) {
	p := DefaultPolicy()
	doc := []byte(`{"meta":{"year":2024}}`)

	assert.Equal(t, 7*day, p.MetadataTTL(doc, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 90*day, p.MetadataTTL(doc, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}
