package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/resource"
)

type memSource map[domain.EntityKind][]domain.Entity

func (m memSource) GetAll(_ context.Context, kind domain.EntityKind, _ domain.Filter) ([]domain.Entity, error) {
	return m[kind], nil
}

func testSource() memSource {
	return memSource{
		domain.EntityShow: {
			&domain.Show{TraktID: 1, Title: "Severance", EpisodeCount: 9, UnwatchedEpisodes: 4},
			&domain.Show{TraktID: 2, Title: "The Office", EpisodeCount: 3, UnwatchedEpisodes: 0},
			&domain.Show{TraktID: -5, Title: ""},
		},
		domain.EntityMovie: {
			&domain.Movie{TraktID: 10, Title: "Heat", Watched: true},
			&domain.Movie{TraktID: 11, Title: "The Heat"},
		},
		domain.EntityWatchlist: {
			&domain.WatchlistItem{Type: domain.MediaTypeMovie, TraktID: 11, Title: "The Heat"},
			&domain.WatchlistItem{Type: domain.MediaTypeMovie, TraktID: 12, Title: "Heathers"},
			&domain.WatchlistItem{Type: domain.MediaTypeShow, TraktID: 3, Title: "Office Space Adventures"},
		},
	}
}

func titles(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Title
	}
	return out
}

func TestSearch_RanksExactThenPrefixThenContains(t *testing.T) {
	s := NewService(testSource(), nil)

	results, err := s.Search(context.Background(), "heat", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Heat", "Heathers", "The Heat"}, titles(results))

	assert.True(t, results[0].Watched)
	assert.True(t, results[2].OnWatchlist)
	assert.Equal(t, int64(11), results[2].TraktID)
}

func TestSearch_FiltersTypes(t *testing.T) {
	s := NewService(testSource(), nil)

	results, err := s.Search(context.Background(), "office", []domain.MediaType{domain.MediaTypeShow})
	require.NoError(t, err)
	assert.Equal(t, []string{"Office Space Adventures", "The Office"}, titles(results))
	assert.False(t, results[0].Watched)
	assert.True(t, results[1].Watched)

	results, err = s.Search(context.Background(), "office", []domain.MediaType{domain.MediaTypeMovie})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyQuery(t *testing.T) {
	s := NewService(testSource(), nil)
	results, err := s.Search(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestFilterCatalog(t *testing.T) {
	items := []resource.CatalogItem{
		{ID: "tt1", Name: "Blade Runner"},
		{ID: "tt2", Name: "Alien"},
		{ID: "tt3", Name: "Blade Runner 2049"},
	}

	all := FilterCatalog("", items)
	require.Len(t, all, 3)
	assert.Equal(t, "tt2", all[1].Item.ID)

	matches := FilterCatalog("blade", items)
	require.Len(t, matches, 2)
	assert.Equal(t, "tt1", matches[0].Item.ID)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, matches[0].MatchedIndexes)

	assert.Empty(t, FilterCatalog("zzz", items))
}
