package trakt

import "time"

// IDs is the ids object attached to every Trakt item.
type IDs struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

// Movie is a movie object (extended=full adds runtime).
type Movie struct {
	Title   string `json:"title"`
	Year    int    `json:"year"`
	IDs     IDs    `json:"ids"`
	Runtime int    `json:"runtime,omitempty"`
}

// Show is a show object (extended=full adds aired_episodes).
type Show struct {
	Title         string `json:"title"`
	Year          int    `json:"year"`
	IDs           IDs    `json:"ids"`
	AiredEpisodes int    `json:"aired_episodes,omitempty"`
}

// Episode is an episode object.
type Episode struct {
	Season     int        `json:"season"`
	Number     int        `json:"number"`
	Title      string     `json:"title"`
	IDs        IDs        `json:"ids"`
	FirstAired *time.Time `json:"first_aired,omitempty"`
	Runtime    int        `json:"runtime,omitempty"`
}

// LastActivities is the response of sync/last_activities.
type LastActivities struct {
	All    time.Time `json:"all"`
	Movies struct {
		WatchedAt     time.Time `json:"watched_at"`
		CollectedAt   time.Time `json:"collected_at"`
		WatchlistedAt time.Time `json:"watchlisted_at"`
		PausedAt      time.Time `json:"paused_at"`
		HiddenAt      time.Time `json:"hidden_at"`
	} `json:"movies"`
	Episodes struct {
		WatchedAt   time.Time `json:"watched_at"`
		CollectedAt time.Time `json:"collected_at"`
		PausedAt    time.Time `json:"paused_at"`
	} `json:"episodes"`
	Shows struct {
		WatchlistedAt time.Time `json:"watchlisted_at"`
		HiddenAt      time.Time `json:"hidden_at"`
	} `json:"shows"`
	Seasons struct {
		HiddenAt time.Time `json:"hidden_at"`
	} `json:"seasons"`
}

// WatchedMovie is one entry of sync/watched/movies.
type WatchedMovie struct {
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
	Movie         Movie     `json:"movie"`
}

// WatchedShow is one entry of sync/watched/shows.
type WatchedShow struct {
	Plays         int             `json:"plays"`
	LastWatchedAt time.Time       `json:"last_watched_at"`
	Show          Show            `json:"show"`
	Seasons       []WatchedSeason `json:"seasons"`
}

// WatchedSeason groups watched episodes by season.
type WatchedSeason struct {
	Number   int `json:"number"`
	Episodes []struct {
		Number        int       `json:"number"`
		Plays         int       `json:"plays"`
		LastWatchedAt time.Time `json:"last_watched_at"`
	} `json:"episodes"`
}

// CollectedMovie is one entry of sync/collection/movies.
type CollectedMovie struct {
	CollectedAt time.Time `json:"collected_at"`
	Movie       Movie     `json:"movie"`
}

// CollectedShow is one entry of sync/collection/shows.
type CollectedShow struct {
	LastCollectedAt time.Time `json:"last_collected_at"`
	Show            Show      `json:"show"`
	Seasons         []struct {
		Number   int `json:"number"`
		Episodes []struct {
			Number      int       `json:"number"`
			CollectedAt time.Time `json:"collected_at"`
		} `json:"episodes"`
	} `json:"seasons"`
}

// WatchlistEntry is one entry of sync/watchlist/{type}.
type WatchlistEntry struct {
	Rank     int       `json:"rank"`
	ListedAt time.Time `json:"listed_at"`
	Type     string    `json:"type"`
	Movie    *Movie    `json:"movie,omitempty"`
	Show     *Show     `json:"show,omitempty"`
}

// PlaybackEntry is one entry of sync/playback.
type PlaybackEntry struct {
	ID       int64     `json:"id"`
	Progress float64   `json:"progress"`
	PausedAt time.Time `json:"paused_at"`
	Type     string    `json:"type"`
	Movie    *Movie    `json:"movie,omitempty"`
	Episode  *Episode  `json:"episode,omitempty"`
	Show     *Show     `json:"show,omitempty"`
}

// HiddenEntry is one entry of users/hidden/{section}.
type HiddenEntry struct {
	HiddenAt time.Time `json:"hidden_at"`
	Type     string    `json:"type"`
	Movie    *Movie    `json:"movie,omitempty"`
	Show     *Show     `json:"show,omitempty"`
}

// Season is one entry of shows/{id}/seasons?extended=episodes.
type Season struct {
	Number   int       `json:"number"`
	IDs      IDs       `json:"ids"`
	Episodes []Episode `json:"episodes"`
}

// SearchResult is one entry of search/imdb/{id}.
type SearchResult struct {
	Type  string  `json:"type"`
	Score float64 `json:"score"`
	Movie *Movie  `json:"movie,omitempty"`
	Show  *Show   `json:"show,omitempty"`
}

// SyncBody is the request body of history, watchlist and hidden mutations.
type SyncBody struct {
	Movies []SyncMovie `json:"movies,omitempty"`
	Shows  []SyncShow  `json:"shows,omitempty"`
}

// SyncMovie addresses a movie in a mutation.
type SyncMovie struct {
	IDs       IDs        `json:"ids"`
	WatchedAt *time.Time `json:"watched_at,omitempty"`
}

// SyncShow addresses a show, optionally narrowed to seasons and episodes.
type SyncShow struct {
	IDs       IDs          `json:"ids"`
	WatchedAt *time.Time   `json:"watched_at,omitempty"`
	Seasons   []SyncSeason `json:"seasons,omitempty"`
}

// SyncSeason addresses a season, optionally narrowed to episodes.
type SyncSeason struct {
	Number    int           `json:"number"`
	WatchedAt *time.Time    `json:"watched_at,omitempty"`
	Episodes  []SyncEpisode `json:"episodes,omitempty"`
}

// SyncEpisode addresses one episode of a season.
type SyncEpisode struct {
	Number    int        `json:"number"`
	WatchedAt *time.Time `json:"watched_at,omitempty"`
}

// SyncCounts is the per-type count object of a mutation response.
type SyncCounts struct {
	Movies   int `json:"movies"`
	Shows    int `json:"shows"`
	Seasons  int `json:"seasons"`
	Episodes int `json:"episodes"`
}

// Total sums every type.
func (c SyncCounts) Total() int {
	return c.Movies + c.Shows + c.Seasons + c.Episodes
}

// SyncResult is the response of history, watchlist and hidden mutations.
type SyncResult struct {
	Added    SyncCounts `json:"added"`
	Deleted  SyncCounts `json:"deleted"`
	Existing SyncCounts `json:"existing"`
	NotFound struct {
		Movies   []SyncMovie `json:"movies"`
		Shows    []SyncShow  `json:"shows"`
		Seasons  []any       `json:"seasons"`
		Episodes []any       `json:"episodes"`
	} `json:"not_found"`
}
