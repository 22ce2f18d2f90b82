package trakt

import (
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
)

// MapActivities flattens sync/last_activities into one clock per category.
func MapActivities(a *LastActivities) domain.ActivityClock {
	return domain.ActivityClock{
		domain.CategoryMoviesWatched:     a.Movies.WatchedAt,
		domain.CategoryMoviesCollected:   a.Movies.CollectedAt,
		domain.CategoryMoviesWatchlist:   a.Movies.WatchlistedAt,
		domain.CategoryEpisodesWatched:   a.Episodes.WatchedAt,
		domain.CategoryEpisodesCollected: a.Episodes.CollectedAt,
		domain.CategoryShowsWatchlist:    a.Shows.WatchlistedAt,
		domain.CategoryPlayback:          latest(a.Movies.PausedAt, a.Episodes.PausedAt),
		domain.CategoryHidden:            latest(a.Shows.HiddenAt, a.Movies.HiddenAt, a.Seasons.HiddenAt),
	}
}

func latest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}
	return out
}

func mapIDs(ids IDs) domain.IDs {
	return domain.IDs{Trakt: ids.Trakt, Slug: ids.Slug, IMDB: ids.IMDB, TMDB: ids.TMDB, TVDB: ids.TVDB}
}

func toIDs(ids domain.IDs) IDs {
	return IDs{Trakt: ids.Trakt, Slug: ids.Slug, IMDB: ids.IMDB, TMDB: ids.TMDB, TVDB: ids.TVDB}
}

// MapMovie converts a Trakt movie into a replica movie row.
func MapMovie(m Movie) *domain.Movie {
	return &domain.Movie{
		TraktID: m.IDs.Trakt,
		IMDBID:  m.IDs.IMDB,
		TMDBID:  m.IDs.TMDB,
		Title:   m.Title,
		Year:    m.Year,
	}
}

// MapShow converts a Trakt show into a replica show row.
func MapShow(s Show) *domain.Show {
	return &domain.Show{
		TraktID:       s.IDs.Trakt,
		IMDBID:        s.IDs.IMDB,
		TVDBID:        s.IDs.TVDB,
		TMDBID:        s.IDs.TMDB,
		Slug:          s.IDs.Slug,
		Title:         s.Title,
		Year:          s.Year,
		AiredEpisodes: s.AiredEpisodes,
	}
}

// MapEpisode converts a Trakt episode into a replica episode row.
func MapEpisode(showID int64, e Episode) *domain.Episode {
	ep := &domain.Episode{
		ShowID:  showID,
		Season:  e.Season,
		Number:  e.Number,
		TraktID: e.IDs.Trakt,
		IMDBID:  e.IDs.IMDB,
		TMDBID:  e.IDs.TMDB,
		TVDBID:  e.IDs.TVDB,
		Title:   e.Title,
	}
	if e.FirstAired != nil {
		ep.AirDate = e.FirstAired.UTC()
	}
	return ep
}

// MapWatchedMovies keeps entries with a canonical ID.
func MapWatchedMovies(items []WatchedMovie) []*domain.Movie {
	out := make([]*domain.Movie, 0, len(items))
	for _, item := range items {
		if item.Movie.IDs.Trakt == 0 {
			continue
		}
		m := MapMovie(item.Movie)
		m.Watched = true
		m.LastWatchedAt = item.LastWatchedAt.UTC()
		out = append(out, m)
	}
	return out
}

// MapWatchedShows converts sync/watched/shows into shows with their
// watched episodes.
func MapWatchedShows(items []WatchedShow) []domain.ShowProgress {
	out := make([]domain.ShowProgress, 0, len(items))
	for _, item := range items {
		if item.Show.IDs.Trakt == 0 {
			continue
		}
		show := MapShow(item.Show)
		p := domain.ShowProgress{Show: show, LastWatchedAt: item.LastWatchedAt.UTC()}
		for _, season := range item.Seasons {
			for _, e := range season.Episodes {
				p.Episodes = append(p.Episodes, &domain.Episode{
					ShowID:        show.TraktID,
					Season:        season.Number,
					Number:        e.Number,
					Watched:       true,
					LastWatchedAt: e.LastWatchedAt.UTC(),
				})
			}
		}
		out = append(out, p)
	}
	return out
}

// MapCollectedMovies keeps entries with a canonical ID.
func MapCollectedMovies(items []CollectedMovie) []*domain.Movie {
	out := make([]*domain.Movie, 0, len(items))
	for _, item := range items {
		if item.Movie.IDs.Trakt == 0 {
			continue
		}
		m := MapMovie(item.Movie)
		m.Collected = true
		m.CollectedAt = item.CollectedAt.UTC()
		out = append(out, m)
	}
	return out
}

// MapCollectedShows converts sync/collection/shows into shows with their
// collected episodes.
func MapCollectedShows(items []CollectedShow) []domain.ShowProgress {
	out := make([]domain.ShowProgress, 0, len(items))
	for _, item := range items {
		if item.Show.IDs.Trakt == 0 {
			continue
		}
		show := MapShow(item.Show)
		p := domain.ShowProgress{Show: show}
		for _, season := range item.Seasons {
			for _, e := range season.Episodes {
				p.Episodes = append(p.Episodes, &domain.Episode{
					ShowID:      show.TraktID,
					Season:      season.Number,
					Number:      e.Number,
					Collected:   true,
					CollectedAt: e.CollectedAt.UTC(),
				})
			}
		}
		out = append(out, p)
	}
	return out
}

// MapWatchlist converts watchlist entries of one type.
func MapWatchlist(t domain.MediaType, items []WatchlistEntry) []*domain.WatchlistItem {
	out := make([]*domain.WatchlistItem, 0, len(items))
	for _, item := range items {
		w := &domain.WatchlistItem{Type: t, ListedAt: item.ListedAt.UTC()}
		switch {
		case item.Movie != nil:
			w.TraktID, w.IMDBID, w.Title, w.Year = item.Movie.IDs.Trakt, item.Movie.IDs.IMDB, item.Movie.Title, item.Movie.Year
		case item.Show != nil:
			w.TraktID, w.IMDBID, w.Title, w.Year = item.Show.IDs.Trakt, item.Show.IDs.IMDB, item.Show.Title, item.Show.Year
		}
		if w.TraktID == 0 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// MapPlayback converts paused playback entries into bookmarks. Entries
// without progress or a canonical ID are skipped.
func MapPlayback(items []PlaybackEntry) []*domain.Bookmark {
	out := make([]*domain.Bookmark, 0, len(items))
	for _, item := range items {
		if item.Progress <= 0 {
			continue
		}
		b := &domain.Bookmark{
			PlaybackID: item.ID,
			Percent:    item.Progress,
			PausedAt:   item.PausedAt.UTC(),
		}
		var runtime int
		switch {
		case item.Type == "movie" && item.Movie != nil:
			b.Type, b.TraktID, runtime = domain.MediaTypeMovie, item.Movie.IDs.Trakt, item.Movie.Runtime
		case item.Type == "episode" && item.Episode != nil:
			b.Type, b.TraktID, runtime = domain.MediaTypeEpisode, item.Episode.IDs.Trakt, item.Episode.Runtime
		default:
			continue
		}
		if b.TraktID == 0 {
			continue
		}
		b.ResumeSeconds = domain.ResumeSeconds(item.Progress, runtime)
		out = append(out, b)
	}
	return out
}

// MapHidden converts hidden entries of one section.
func MapHidden(section string, items []HiddenEntry) []*domain.HiddenItem {
	out := make([]*domain.HiddenItem, 0, len(items))
	for _, item := range items {
		h := &domain.HiddenItem{Section: section}
		switch {
		case item.Movie != nil:
			h.Type, h.TraktID = domain.MediaTypeMovie, item.Movie.IDs.Trakt
		case item.Show != nil:
			h.Type, h.TraktID = domain.MediaTypeShow, item.Show.IDs.Trakt
		default:
			continue
		}
		if h.TraktID == 0 {
			continue
		}
		out = append(out, h)
	}
	return out
}

// MapSeasons flattens a season list into episodes.
func MapSeasons(showID int64, seasons []Season) []*domain.Episode {
	var out []*domain.Episode
	for _, season := range seasons {
		for _, e := range season.Episodes {
			e.Season = season.Number
			out = append(out, MapEpisode(showID, e))
		}
	}
	return out
}

// MapSyncItems converts a domain mutation body into the wire format.
func MapSyncItems(items domain.SyncItems) SyncBody {
	var body SyncBody
	for _, m := range items.Movies {
		body.Movies = append(body.Movies, SyncMovie{IDs: toIDs(m.IDs), WatchedAt: timePtr(m.WatchedAt)})
	}
	for _, s := range items.Shows {
		show := SyncShow{IDs: toIDs(s.IDs)}
		for _, season := range s.Seasons {
			ss := SyncSeason{Number: season.Number}
			for _, n := range season.Episodes {
				ss.Episodes = append(ss.Episodes, SyncEpisode{Number: n})
			}
			show.Seasons = append(show.Seasons, ss)
		}
		body.Shows = append(body.Shows, show)
	}
	return body
}

// MapSyncResult converts a mutation response.
func MapSyncResult(r *SyncResult) domain.SyncResponse {
	return domain.SyncResponse{
		Added:    r.Added.Total(),
		Deleted:  r.Deleted.Total(),
		Existing: r.Existing.Total(),
		NotFound: len(r.NotFound.Movies) + len(r.NotFound.Shows) + len(r.NotFound.Seasons) + len(r.NotFound.Episodes),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
