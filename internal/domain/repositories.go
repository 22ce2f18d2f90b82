package domain

import (
	"context"
	"time"
)

// TraktRepository: Network operations against the remote account service.
type TraktRepository interface {
	// GetLastActivities returns the remote per-category activity clock
	GetLastActivities(ctx context.Context) (ActivityClock, error)

	GetWatchedMovies(ctx context.Context) ([]*Movie, error)
	GetWatchedShows(ctx context.Context) ([]ShowProgress, error)
	GetCollectedMovies(ctx context.Context) ([]*Movie, error)
	GetCollectedShows(ctx context.Context) ([]ShowProgress, error)
	GetWatchlist(ctx context.Context, t MediaType) ([]*WatchlistItem, error)
	GetPlayback(ctx context.Context) ([]*Bookmark, error)
	GetHidden(ctx context.Context, section string) ([]*HiddenItem, error)

	// GetShowEpisodes returns every episode of a show, watched or not
	GetShowEpisodes(ctx context.Context, showID int64) ([]*Episode, error)

	// LookupIMDB resolves a secondary identifier to canonical IDs
	LookupIMDB(ctx context.Context, t MediaType, imdbID string) (*LookupResult, error)
}

// TraktWriter: Network mutations against the remote account service.
type TraktWriter interface {
	AddToHistory(ctx context.Context, items SyncItems) (SyncResponse, error)
	RemoveFromHistory(ctx context.Context, items SyncItems) (SyncResponse, error)
	AddToWatchlist(ctx context.Context, items SyncItems) (SyncResponse, error)
	RemoveFromWatchlist(ctx context.Context, items SyncItems) (SyncResponse, error)
	HideFromProgress(ctx context.Context, items SyncItems) (SyncResponse, error)
	UnhideFromProgress(ctx context.Context, items SyncItems) (SyncResponse, error)
	RemovePlayback(ctx context.Context, playbackID int64) error
}

// ResourceRepository fetches add-on resources with conditional revalidation.
type ResourceRepository interface {
	Fetch(ctx context.Context, path string, cond ConditionalMeta) (*FetchResult, error)
}

// FetchResult is the outcome of a (possibly conditional) resource fetch.
type FetchResult struct {
	NotModified bool
	Body        []byte
	Meta        ConditionalMeta
}

// ShowProgress is a show together with the episodes a pull reported for it.
type ShowProgress struct {
	Show          *Show
	LastWatchedAt time.Time
	Episodes      []*Episode
}

// LookupResult is a resolved secondary identifier.
type LookupResult struct {
	Type  MediaType
	IDs   IDs
	Title string
	Year  int
}

// SyncItems is the body of a history, watchlist, or hidden mutation.
type SyncItems struct {
	Movies []SyncItem
	Shows  []SyncShow
}

// SyncItem addresses a movie or show as a whole.
type SyncItem struct {
	IDs       IDs
	WatchedAt time.Time
}

// SyncShow addresses a show, optionally narrowed to seasons and episodes.
type SyncShow struct {
	IDs     IDs
	Seasons []SyncSeason
}

// SyncSeason addresses a season, optionally narrowed to episodes.
type SyncSeason struct {
	Number   int
	Episodes []int
}

// Empty reports whether the body addresses nothing.
func (s SyncItems) Empty() bool {
	return len(s.Movies) == 0 && len(s.Shows) == 0
}

// SyncResponse counts what the remote service accepted.
type SyncResponse struct {
	Added    int
	Deleted  int
	Existing int
	NotFound int
}

// Accepted reports whether the remote service applied at least part of the mutation.
func (r SyncResponse) Accepted() bool {
	return r.NotFound == 0 || r.Added+r.Deleted+r.Existing > 0
}
