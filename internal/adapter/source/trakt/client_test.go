package trakt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/kinosync/internal/domain"
)

func setupClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "client-id", "token", nil, opts...)
}

func TestClient_SendsTraktHeaders(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.Header.Get("trakt-api-version"))
		assert.Equal(t, "client-id", r.Header.Get("trakt-api-key"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "/sync/last_activities", r.URL.Path)
		io.WriteString(w, `{
			"all": "2026-02-01T00:00:00.000Z",
			"movies": {"watched_at": "2026-01-05T10:00:00.000Z", "paused_at": "2026-01-01T00:00:00.000Z", "hidden_at": "2025-12-01T00:00:00.000Z"},
			"episodes": {"watched_at": "2026-01-06T10:00:00.000Z", "paused_at": "2026-01-09T00:00:00.000Z"},
			"shows": {"watchlisted_at": "2026-01-07T10:00:00.000Z", "hidden_at": "2026-01-03T00:00:00.000Z"},
			"seasons": {"hidden_at": null}
		}`)
	})

	clock, err := c.GetLastActivities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), clock[domain.CategoryMoviesWatched].UTC())
	assert.Equal(t, time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC), clock[domain.CategoryPlayback].UTC())
	assert.Equal(t, time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), clock[domain.CategoryHidden].UTC())
	assert.True(t, clock[domain.CategoryMoviesCollected].IsZero())
}

func TestClient_Pagination(t *testing.T) {
	var pages []string
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		w.Header().Set("X-Pagination-Page-Count", "2")
		w.Header().Set("X-Pagination-Item-Count", "2")
		id, _ := strconv.Atoi(page)
		io.WriteString(w, `[{"listed_at":"2026-01-01T00:00:00.000Z","type":"movie","movie":{"title":"M`+page+`","year":2020,"ids":{"trakt":`+strconv.Itoa(id)+`,"imdb":"tt`+page+`"}}}]`)
	})

	items, err := c.GetWatchlist(context.Background(), domain.MediaTypeMovie)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, pages)
	require.Len(t, items, 2)
	assert.EqualValues(t, 2, items[1].TraktID)
	assert.Equal(t, "tt2", items[1].IMDBID)
	assert.Equal(t, domain.MediaTypeMovie, items[1].Type)
}

func TestClient_RefreshesTokenOnce(t *testing.T) {
	var calls, refreshes atomic.Int32
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `[]`)
	}, WithRefresher(func(ctx context.Context) (string, error) {
		refreshes.Add(1)
		return "fresh", nil
	}))

	_, err := c.GetWatchedMovies(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, refreshes.Load())
}

func TestClient_AuthExpiredWithoutRefresher(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetPlayback(context.Background())
	assert.Equal(t, domain.KindAuthExpired, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestClient_RateLimited(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetHidden(context.Background(), domain.SectionCalendar)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
	assert.Equal(t, 2*time.Second, domain.RetryAfterOf(err))
}

func TestClient_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, "id", "token", nil)

	_, err := c.GetLastActivities(context.Background())
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(err))
}

func TestClient_GetShowEpisodes(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shows/42/seasons", r.URL.Path)
		assert.Equal(t, "episodes,full", r.URL.Query().Get("extended"))
		io.WriteString(w, `[
			{"number":0,"episodes":[{"season":0,"number":1,"title":"Special","ids":{"trakt":900}}]},
			{"number":1,"episodes":[
				{"season":1,"number":1,"title":"Pilot","ids":{"trakt":901},"first_aired":"2020-01-01T02:00:00.000Z"},
				{"season":1,"number":2,"title":"Second","ids":{"trakt":902}}
			]}
		]`)
	})

	eps, err := c.GetShowEpisodes(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, eps, 3)
	assert.EqualValues(t, 42, eps[1].ShowID)
	assert.Equal(t, "S01E01", eps[1].Code())
	assert.Equal(t, time.Date(2020, 1, 1, 2, 0, 0, 0, time.UTC), eps[1].AirDate)
	assert.True(t, eps[2].AirDate.IsZero())
}

func TestClient_MutationNotFoundIsRejected(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sync/watchlist", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"movies":[{"ids":{"imdb":"ttABC"}}]}`, string(body))
		io.WriteString(w, `{"added":{"movies":0},"existing":{"movies":0},"not_found":{"movies":[{"ids":{"imdb":"ttABC"}}]}}`)
	})

	_, err := c.AddToWatchlist(context.Background(), domain.SyncItems{
		Movies: []domain.SyncItem{{IDs: domain.IDs{IMDB: "ttABC"}}},
	})
	assert.Equal(t, domain.KindRemoteRejected, domain.KindOf(err))
}

func TestClient_RemovePlayback(t *testing.T) {
	c := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/sync/playback/77", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.RemovePlayback(context.Background(), 77))
}

func TestMapPlayback(t *testing.T) {
	items := []PlaybackEntry{
		{ID: 1, Progress: 50, Type: "movie", Movie: &Movie{IDs: IDs{Trakt: 10}, Runtime: 120}},
		{ID: 2, Progress: 0, Type: "movie", Movie: &Movie{IDs: IDs{Trakt: 11}, Runtime: 90}},
		{ID: 3, Progress: 25, Type: "episode", Episode: &Episode{IDs: IDs{Trakt: 12}}},
		{ID: 4, Progress: 25, Type: "episode"},
	}
	got := MapPlayback(items)
	require.Len(t, got, 2)
	assert.Equal(t, 3600.0, got[0].ResumeSeconds)
	assert.Equal(t, domain.MediaTypeEpisode, got[1].Type)
	assert.Zero(t, got[1].ResumeSeconds)
}
