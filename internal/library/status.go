package library

import (
	"context"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/replica"
)

// Status summarizes what the replica holds.
type Status struct {
	Shows           int
	Episodes        int
	WatchedEpisodes int
	Movies          int
	WatchedMovies   int
	Watchlist       int
	Bookmarks       int
	Hidden          int
	Clocks          domain.ActivityClock
	LastClockFetch  time.Time
}

// Status reads the replica summary in one consistent view.
func (q *Queries) Status(ctx context.Context) (Status, error) {
	var st Status
	err := q.replica.View(ctx, func(tx *replica.Tx) error {
		shows, err := tx.ListShows(domain.Filter{})
		if err != nil {
			return err
		}
		st.Shows = len(shows)
		for _, s := range shows {
			st.Episodes += s.EpisodeCount
			st.WatchedEpisodes += s.WatchedEpisodes
		}

		movies, err := tx.ListMovies(domain.Filter{})
		if err != nil {
			return err
		}
		st.Movies = len(movies)
		for _, m := range movies {
			if m.Watched {
				st.WatchedMovies++
			}
		}

		watchlist, err := tx.ListWatchlist(domain.Filter{})
		if err != nil {
			return err
		}
		st.Watchlist = len(watchlist)

		bookmarks, err := tx.ListBookmarks(domain.Filter{})
		if err != nil {
			return err
		}
		st.Bookmarks = len(bookmarks)

		hidden, err := tx.ListHidden(domain.Filter{})
		if err != nil {
			return err
		}
		st.Hidden = len(hidden)

		if st.Clocks, err = tx.Clocks(); err != nil {
			return err
		}
		st.LastClockFetch, err = tx.StateTime(replica.StateLastClockFetch)
		return err
	})
	return st, err
}
