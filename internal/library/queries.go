// Package library is the read side of the replica: synchronous, local-only
// queries that never touch the network.
package library

import (
	"context"
	"log/slog"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/replica"
)

// Queries provides cache-only reads over the replica.
type Queries struct {
	replica *replica.Store
	logger  *slog.Logger
}

// NewQueries creates a new Queries instance.
func NewQueries(store *replica.Store, logger *slog.Logger) *Queries {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queries{replica: store, logger: logger}
}

func (q *Queries) Get(ctx context.Context, key domain.Key) (domain.Entity, error) {
	return q.replica.Get(ctx, key)
}

func (q *Queries) NextUnwatched(ctx context.Context, showID int64) (*domain.Episode, error) {
	return q.replica.NextUnwatched(ctx, showID)
}

func (q *Queries) NextUp(ctx context.Context, limit int) ([]domain.NextEpisode, error) {
	return q.replica.NextUp(ctx, limit)
}

func (q *Queries) Watchlist(ctx context.Context, mediaType domain.MediaType) ([]*domain.WatchlistItem, error) {
	return q.replica.Watchlist(ctx, mediaType)
}

// Shows returns shows matching f.
func (q *Queries) Shows(ctx context.Context, f domain.Filter) ([]*domain.Show, error) {
	var out []*domain.Show
	err := q.replica.View(ctx, func(tx *replica.Tx) error {
		var err error
		out, err = tx.ListShows(f)
		return err
	})
	return out, err
}

// Movies returns movies matching f.
func (q *Queries) Movies(ctx context.Context, f domain.Filter) ([]*domain.Movie, error) {
	var out []*domain.Movie
	err := q.replica.View(ctx, func(tx *replica.Tx) error {
		var err error
		out, err = tx.ListMovies(f)
		return err
	})
	return out, err
}

// Episodes returns the episodes of one show, optionally one season.
func (q *Queries) Episodes(ctx context.Context, showID int64, season *int) ([]*domain.Episode, error) {
	var out []*domain.Episode
	err := q.replica.View(ctx, func(tx *replica.Tx) error {
		var err error
		out, err = tx.ListEpisodes(domain.Filter{ShowID: showID, Season: season})
		return err
	})
	return out, err
}

// Bookmarks returns paused playback positions.
func (q *Queries) Bookmarks(ctx context.Context, f domain.Filter) ([]*domain.Bookmark, error) {
	var out []*domain.Bookmark
	err := q.replica.View(ctx, func(tx *replica.Tx) error {
		var err error
		out, err = tx.ListBookmarks(f)
		return err
	})
	return out, err
}

// ResolveIMDB maps an IMDB ID to a locally known Trakt ID.
func (q *Queries) ResolveIMDB(ctx context.Context, mediaType domain.MediaType, imdbID string) (int64, error) {
	return q.replica.FindByIMDB(ctx, mediaType, imdbID)
}
