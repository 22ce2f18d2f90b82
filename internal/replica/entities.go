package replica

import (
	"context"
	"fmt"

	"github.com/mmcdole/kinosync/internal/domain"
)

// Upsert writes any replica entity with its kind's merge rules.
func (t *Tx) Upsert(e domain.Entity) error {
	switch v := e.(type) {
	case *domain.Show:
		return t.UpsertShow(v)
	case *domain.Episode:
		return t.UpsertEpisode(v)
	case *domain.Movie:
		return t.UpsertMovie(v)
	case *domain.WatchlistItem:
		return t.UpsertWatchlistItem(v)
	case *domain.Bookmark:
		return t.UpsertBookmark(v)
	case *domain.HiddenItem:
		return t.UpsertHidden(v)
	default:
		return fmt.Errorf("upsert: unsupported entity %T", e)
	}
}

// Get returns the entity addressed by key, or domain.ErrNotFound.
func (t *Tx) Get(key domain.Key) (domain.Entity, error) {
	switch key.Kind {
	case domain.EntityShow:
		return t.GetShow(key.TraktID)
	case domain.EntityEpisode:
		return t.GetEpisode(key.ShowID, key.Season, key.Number)
	case domain.EntityMovie:
		return t.GetMovie(key.TraktID)
	case domain.EntityWatchlist:
		return t.GetWatchlistItem(key.Type, key.TraktID)
	case domain.EntityBookmark:
		return t.GetBookmark(key.Type, key.TraktID)
	case domain.EntityHidden:
		ok, err := t.IsHidden(key.Type, key.TraktID, key.Section)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
		}
		return &domain.HiddenItem{TraktID: key.TraktID, Type: key.Type, Section: key.Section}, nil
	default:
		return nil, fmt.Errorf("get: unsupported kind %q", key.Kind)
	}
}

// GetAll returns every entity of kind matching f.
func (t *Tx) GetAll(kind domain.EntityKind, f domain.Filter) ([]domain.Entity, error) {
	switch kind {
	case domain.EntityShow:
		return entities(t.ListShows(f))
	case domain.EntityEpisode:
		return entities(t.ListEpisodes(f))
	case domain.EntityMovie:
		return entities(t.ListMovies(f))
	case domain.EntityWatchlist:
		return entities(t.ListWatchlist(f))
	case domain.EntityBookmark:
		return entities(t.ListBookmarks(f))
	case domain.EntityHidden:
		return entities(t.ListHidden(f))
	default:
		return nil, fmt.Errorf("get all: unsupported kind %q", kind)
	}
}

// Delete removes the entity addressed by key. Deleting a missing row is
// not an error.
func (t *Tx) Delete(key domain.Key) error {
	switch key.Kind {
	case domain.EntityShow:
		return t.DeleteShow(key.TraktID)
	case domain.EntityEpisode:
		return t.DeleteEpisode(key.ShowID, key.Season, key.Number)
	case domain.EntityMovie:
		return t.DeleteMovie(key.TraktID)
	case domain.EntityWatchlist:
		return t.DeleteWatchlistItem(key.Type, key.TraktID)
	case domain.EntityBookmark:
		return t.DeleteBookmark(key.Type, key.TraktID)
	case domain.EntityHidden:
		return t.DeleteHidden(key.Type, key.TraktID, key.Section)
	default:
		return fmt.Errorf("delete: unsupported kind %q", key.Kind)
	}
}

func entities[T domain.Entity](items []T, err error) ([]domain.Entity, error) {
	if err != nil {
		return nil, err
	}
	out := make([]domain.Entity, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out, nil
}

// Upsert writes one entity in its own transaction.
func (s *Store) Upsert(ctx context.Context, e domain.Entity) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Upsert(e) })
}

// Get reads one entity.
func (s *Store) Get(ctx context.Context, key domain.Key) (domain.Entity, error) {
	var out domain.Entity
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Get(key)
		return err
	})
	return out, err
}

// GetAll reads every entity of kind matching f.
func (s *Store) GetAll(ctx context.Context, kind domain.EntityKind, f domain.Filter) ([]domain.Entity, error) {
	var out []domain.Entity
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.GetAll(kind, f)
		return err
	})
	return out, err
}

// Delete removes one entity in its own transaction.
func (s *Store) Delete(ctx context.Context, key domain.Key) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Delete(key) })
}

// Watchlist returns the watchlist rows of one media type, or all when empty.
func (s *Store) Watchlist(ctx context.Context, mediaType domain.MediaType) ([]*domain.WatchlistItem, error) {
	var out []*domain.WatchlistItem
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.ListWatchlist(domain.Filter{Type: mediaType})
		return err
	})
	return out, err
}
