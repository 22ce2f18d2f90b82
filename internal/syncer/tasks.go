package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/replica"
)

// Every task reads everything it needs from the remote first, then applies
// it together with its clock advance in one replica transaction.

func (c *Coordinator) syncWatchedMovies(ctx context.Context, remoteAt time.Time) (int, error) {
	movies, err := pull(ctx, c, "watched movies", c.remote.GetWatchedMovies)
	if err != nil {
		return 0, err
	}
	return len(movies), c.replica.Update(ctx, func(tx *replica.Tx) error {
		for _, m := range movies {
			if err := tx.MarkMovieWatched(m); err != nil {
				return err
			}
		}
		return tx.AdvanceClock(domain.CategoryMoviesWatched, remoteAt)
	})
}

func (c *Coordinator) syncCollectedMovies(ctx context.Context, remoteAt time.Time) (int, error) {
	movies, err := pull(ctx, c, "collected movies", c.remote.GetCollectedMovies)
	if err != nil {
		return 0, err
	}
	return len(movies), c.replica.Update(ctx, func(tx *replica.Tx) error {
		if err := tx.ReplaceMovieCollection(values(movies)); err != nil {
			return err
		}
		return tx.AdvanceClock(domain.CategoryMoviesCollected, remoteAt)
	})
}

func (c *Coordinator) syncWatchlist(ctx context.Context, category domain.Category, t domain.MediaType, remoteAt time.Time) (int, error) {
	items, err := pull(ctx, c, string(t)+" watchlist", func(ctx context.Context) ([]*domain.WatchlistItem, error) {
		return c.remote.GetWatchlist(ctx, t)
	})
	if err != nil {
		return 0, err
	}
	return len(items), c.replica.Update(ctx, func(tx *replica.Tx) error {
		if err := tx.ReplaceWatchlist(t, values(items)); err != nil {
			return err
		}
		return tx.AdvanceClock(category, remoteAt)
	})
}

// syncWatchedEpisodes overlays watched markers on the full episode list of
// every watched show. A show's full list is pulled when none of its
// episodes are known yet or the remote reports more aired episodes than
// are stored.
func (c *Coordinator) syncWatchedEpisodes(ctx context.Context, remoteAt time.Time) (int, error) {
	shows, err := pull(ctx, c, "watched shows", c.remote.GetWatchedShows)
	if err != nil {
		return 0, err
	}

	var needFull []int64
	err = c.replica.View(ctx, func(tx *replica.Tx) error {
		for _, sp := range shows {
			n, err := tx.EpisodeCount(sp.Show.TraktID)
			if err != nil {
				return err
			}
			if n == 0 || sp.Show.AiredEpisodes > n {
				needFull = append(needFull, sp.Show.TraktID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	full := make(map[int64][]*domain.Episode, len(needFull))
	for _, showID := range needFull {
		if c.opts.Suppressor.Suppressed() {
			return 0, domain.ErrSuppressed
		}
		episodes, err := pull(ctx, c, fmt.Sprintf("episodes of show %d", showID), func(ctx context.Context) ([]*domain.Episode, error) {
			return c.remote.GetShowEpisodes(ctx, showID)
		})
		if err != nil {
			return 0, fmt.Errorf("episodes of show %d: %w", showID, err)
		}
		full[showID] = episodes
	}

	count := 0
	err = c.replica.Update(ctx, func(tx *replica.Tx) error {
		ids := make([]int64, 0, len(shows))
		for _, sp := range shows {
			id := sp.Show.TraktID
			ids = append(ids, id)
			if err := tx.UpsertShow(sp.Show); err != nil {
				return err
			}
			if episodes, ok := full[id]; ok {
				if err := tx.InsertEpisodesIfMissing(id, values(episodes)); err != nil {
					return err
				}
			}
			if err := tx.MarkEpisodesWatched(id, values(sp.Episodes)); err != nil {
				return err
			}
			count += len(sp.Episodes)
		}
		if err := tx.RecomputeShowStats(ids...); err != nil {
			return err
		}
		return tx.AdvanceClock(domain.CategoryEpisodesWatched, remoteAt)
	})
	if err != nil {
		return 0, err
	}
	c.logger.Debug("synced watched episodes", "shows", len(shows), "episodes", count, "fullPulls", len(full))
	return count, nil
}

func (c *Coordinator) syncCollectedEpisodes(ctx context.Context, remoteAt time.Time) (int, error) {
	shows, err := pull(ctx, c, "collected shows", c.remote.GetCollectedShows)
	if err != nil {
		return 0, err
	}
	collected := make(map[int64][]domain.Episode, len(shows))
	count := 0
	for _, sp := range shows {
		collected[sp.Show.TraktID] = values(sp.Episodes)
		count += len(sp.Episodes)
	}
	return count, c.replica.Update(ctx, func(tx *replica.Tx) error {
		for _, sp := range shows {
			if err := tx.UpsertShow(sp.Show); err != nil {
				return err
			}
		}
		if err := tx.ReplaceEpisodeCollection(collected); err != nil {
			return err
		}
		return tx.AdvanceClock(domain.CategoryEpisodesCollected, remoteAt)
	})
}

func (c *Coordinator) syncPlayback(ctx context.Context, remoteAt time.Time) (int, error) {
	bookmarks, err := pull(ctx, c, "playback", c.remote.GetPlayback)
	if err != nil {
		return 0, err
	}
	return len(bookmarks), c.replica.Update(ctx, func(tx *replica.Tx) error {
		for _, b := range bookmarks {
			if err := tx.UpsertBookmark(b); err != nil {
				return err
			}
		}
		return tx.AdvanceClock(domain.CategoryPlayback, remoteAt)
	})
}

func (c *Coordinator) syncHidden(ctx context.Context, remoteAt time.Time) (int, error) {
	sections := make(map[string][]*domain.HiddenItem, len(domain.HiddenSections))
	count := 0
	for _, section := range domain.HiddenSections {
		items, err := pull(ctx, c, "hidden "+section, func(ctx context.Context) ([]*domain.HiddenItem, error) {
			return c.remote.GetHidden(ctx, section)
		})
		if err != nil {
			return 0, fmt.Errorf("hidden %s: %w", section, err)
		}
		sections[section] = items
		count += len(items)
	}
	return count, c.replica.Update(ctx, func(tx *replica.Tx) error {
		for _, section := range domain.HiddenSections {
			if err := tx.ReplaceHidden(section, values(sections[section])); err != nil {
				return err
			}
		}
		return tx.AdvanceClock(domain.CategoryHidden, remoteAt)
	})
}
