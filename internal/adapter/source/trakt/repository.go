package trakt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmcdole/kinosync/internal/domain"
)

var (
	_ domain.TraktRepository = (*Client)(nil)
	_ domain.TraktWriter     = (*Client)(nil)
)

// GetLastActivities returns the remote activity clock
func (c *Client) GetLastActivities(ctx context.Context) (domain.ActivityClock, error) {
	var a LastActivities
	if err := c.getJSON(ctx, "/sync/last_activities", nil, &a); err != nil {
		return nil, err
	}
	return MapActivities(&a), nil
}

// GetWatchedMovies returns every watched movie
func (c *Client) GetWatchedMovies(ctx context.Context) ([]*domain.Movie, error) {
	items, err := fetchAll[WatchedMovie](ctx, c, "/sync/watched/movies", nil, nil)
	if err != nil {
		return nil, err
	}
	return MapWatchedMovies(items), nil
}

// GetWatchedShows returns every show with at least one watched episode
func (c *Client) GetWatchedShows(ctx context.Context) ([]domain.ShowProgress, error) {
	items, err := fetchAll[WatchedShow](ctx, c, "/sync/watched/shows", url.Values{"extended": {"full"}}, nil)
	if err != nil {
		return nil, err
	}
	return MapWatchedShows(items), nil
}

// GetCollectedMovies returns the movie collection
func (c *Client) GetCollectedMovies(ctx context.Context) ([]*domain.Movie, error) {
	items, err := fetchAll[CollectedMovie](ctx, c, "/sync/collection/movies", nil, nil)
	if err != nil {
		return nil, err
	}
	return MapCollectedMovies(items), nil
}

// GetCollectedShows returns the show collection
func (c *Client) GetCollectedShows(ctx context.Context) ([]domain.ShowProgress, error) {
	items, err := fetchAll[CollectedShow](ctx, c, "/sync/collection/shows", nil, nil)
	if err != nil {
		return nil, err
	}
	return MapCollectedShows(items), nil
}

// GetWatchlist returns the watchlist of one media type
func (c *Client) GetWatchlist(ctx context.Context, t domain.MediaType) ([]*domain.WatchlistItem, error) {
	items, err := fetchAll[WatchlistEntry](ctx, c, "/sync/watchlist/"+plural(t), nil, nil)
	if err != nil {
		return nil, err
	}
	return MapWatchlist(t, items), nil
}

// GetPlayback returns paused playback positions
func (c *Client) GetPlayback(ctx context.Context) ([]*domain.Bookmark, error) {
	items, err := fetchAll[PlaybackEntry](ctx, c, "/sync/playback", url.Values{"extended": {"full"}}, nil)
	if err != nil {
		return nil, err
	}
	return MapPlayback(items), nil
}

// GetHidden returns the items hidden from one section
func (c *Client) GetHidden(ctx context.Context, section string) ([]*domain.HiddenItem, error) {
	items, err := fetchAll[HiddenEntry](ctx, c, "/users/hidden/"+section, nil, nil)
	if err != nil {
		return nil, err
	}
	return MapHidden(section, items), nil
}

// GetShowEpisodes returns every episode of a show including specials
func (c *Client) GetShowEpisodes(ctx context.Context, showID int64) ([]*domain.Episode, error) {
	var seasons []Season
	path := fmt.Sprintf("/shows/%d/seasons", showID)
	if err := c.getJSON(ctx, path, url.Values{"extended": {"episodes,full"}}, &seasons); err != nil {
		return nil, err
	}
	return MapSeasons(showID, seasons), nil
}

// LookupIMDB resolves an IMDB ID to canonical IDs
func (c *Client) LookupIMDB(ctx context.Context, t domain.MediaType, imdbID string) (*domain.LookupResult, error) {
	var results []SearchResult
	query := url.Values{}
	if t != "" {
		query.Set("type", string(t))
	}
	if err := c.getJSON(ctx, "/search/imdb/"+url.PathEscape(imdbID), query, &results); err != nil {
		return nil, err
	}
	for _, r := range results {
		switch {
		case r.Movie != nil && (t == "" || t == domain.MediaTypeMovie):
			return &domain.LookupResult{Type: domain.MediaTypeMovie, IDs: mapIDs(r.Movie.IDs), Title: r.Movie.Title, Year: r.Movie.Year}, nil
		case r.Show != nil && (t == "" || t == domain.MediaTypeShow):
			return &domain.LookupResult{Type: domain.MediaTypeShow, IDs: mapIDs(r.Show.IDs), Title: r.Show.Title, Year: r.Show.Year}, nil
		}
	}
	return nil, &domain.RemoteError{Kind: domain.KindRemoteRejected, Op: "lookup " + imdbID, Status: http.StatusNotFound, Err: domain.ErrNotFound}
}

// AddToHistory marks items watched
func (c *Client) AddToHistory(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return c.mutate(ctx, "/sync/history", items)
}

// RemoveFromHistory marks items unwatched
func (c *Client) RemoveFromHistory(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return c.mutate(ctx, "/sync/history/remove", items)
}

// AddToWatchlist adds items to the watchlist
func (c *Client) AddToWatchlist(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return c.mutate(ctx, "/sync/watchlist", items)
}

// RemoveFromWatchlist removes items from the watchlist
func (c *Client) RemoveFromWatchlist(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return c.mutate(ctx, "/sync/watchlist/remove", items)
}

// HideFromProgress hides shows from watched progress
func (c *Client) HideFromProgress(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return c.mutate(ctx, "/users/hidden/"+domain.SectionProgressWatched, items)
}

// UnhideFromProgress restores shows to watched progress
func (c *Client) UnhideFromProgress(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return c.mutate(ctx, "/users/hidden/"+domain.SectionProgressWatched+"/remove", items)
}

// RemovePlayback deletes a paused playback position
func (c *Client) RemovePlayback(ctx context.Context, playbackID int64) error {
	_, err := c.call(ctx, http.MethodDelete, fmt.Sprintf("/sync/playback/%d", playbackID), nil, nil)
	return err
}

// mutate posts a sync body. A response where nothing matched is a rejection.
func (c *Client) mutate(ctx context.Context, path string, items domain.SyncItems) (domain.SyncResponse, error) {
	var result SyncResult
	if err := c.postJSON(ctx, path, MapSyncItems(items), &result); err != nil {
		return domain.SyncResponse{}, err
	}
	resp := MapSyncResult(&result)
	if !resp.Accepted() {
		return resp, &domain.RemoteError{Kind: domain.KindRemoteRejected, Op: "POST " + path, Err: domain.ErrNotFound}
	}
	return resp, nil
}

func plural(t domain.MediaType) string {
	if t == domain.MediaTypeShow {
		return "shows"
	}
	return "movies"
}
