package writes

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/replica"
)

// Mutation operation names, as reported in Outcome.Op.
const (
	OpMarkWatched     = "mark_watched"
	OpMarkUnwatched   = "mark_unwatched"
	OpAddWatchlist    = "add_watchlist"
	OpRemoveWatchlist = "remove_watchlist"
	OpHide            = "hide_progress"
	OpUnhide          = "unhide_progress"
	OpRemovePlayback  = "remove_playback"
)

// MarkWatched marks a movie, episode, season or whole show as watched.
// Season and show scopes expand to every aired episode known locally; a
// show that is not known yet has its episode list pulled first.
func (m *Manager) MarkWatched(ctx context.Context, target domain.Target, scope domain.Scope) (*Pending, error) {
	return m.setWatched(ctx, OpMarkWatched, target, scope, true)
}

// MarkUnwatched clears the watched state of a movie, episode, season or
// whole show.
func (m *Manager) MarkUnwatched(ctx context.Context, target domain.Target, scope domain.Scope) (*Pending, error) {
	return m.setWatched(ctx, OpMarkUnwatched, target, scope, false)
}

// AddToWatchlist adds a movie or show to the watchlist.
func (m *Manager) AddToWatchlist(ctx context.Context, target domain.Target) (*Pending, error) {
	return m.watchlist(ctx, OpAddWatchlist, target, true)
}

// RemoveFromWatchlist removes a movie or show from the watchlist.
func (m *Manager) RemoveFromWatchlist(ctx context.Context, target domain.Target) (*Pending, error) {
	return m.watchlist(ctx, OpRemoveWatchlist, target, false)
}

// HideFromProgress hides a show from watch progress.
func (m *Manager) HideFromProgress(ctx context.Context, showID int64) (*Pending, error) {
	return m.hidden(ctx, OpHide, showID, true)
}

// UnhideFromProgress shows a hidden show in watch progress again.
func (m *Manager) UnhideFromProgress(ctx context.Context, showID int64) (*Pending, error) {
	return m.hidden(ctx, OpUnhide, showID, false)
}

// RemovePlayback drops a paused playback position.
func (m *Manager) RemovePlayback(ctx context.Context, playbackID int64) (*Pending, error) {
	mut := &mutation{op: OpRemovePlayback, target: domain.Target{Type: domain.MediaTypeEpisode}}
	mut.plan = func(tx *replica.Tx) ([]domain.Key, func() error, error) {
		b, err := tx.FindBookmarkByPlayback(playbackID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, func() error { return nil }, nil
		}
		if err != nil {
			return nil, nil, err
		}
		mut.id = b.TraktID
		mut.target = domain.Target{Type: b.Type, TraktID: b.TraktID}
		return []domain.Key{b.EntityKey()}, func() error {
			return tx.DeleteBookmark(b.Type, b.TraktID)
		}, nil
	}
	mut.send = func(ctx context.Context, _ domain.IDs) (domain.SyncResponse, error) {
		if err := m.remote.RemovePlayback(ctx, playbackID); err != nil {
			return domain.SyncResponse{}, err
		}
		return domain.SyncResponse{Deleted: 1}, nil
	}
	return m.submit(ctx, mut)
}

func (m *Manager) setWatched(ctx context.Context, op string, target domain.Target, scope domain.Scope, watched bool) (*Pending, error) {
	scope, err := normalizeScope(target, scope)
	if err != nil {
		return nil, err
	}
	at := m.opts.Now()
	mut := &mutation{op: op, target: target}

	if target.Type == domain.MediaTypeMovie {
		mut.plan = func(tx *replica.Tx) ([]domain.Key, func() error, error) {
			if err := localID(tx, mut, domain.MediaTypeMovie); err != nil {
				return nil, nil, err
			}
			key := domain.MovieKey(mut.id)
			mut.reconcile = []domain.Key{key}
			return []domain.Key{key}, func() error {
				if watched {
					return tx.MarkMovieWatched(&domain.Movie{
						TraktID:       mut.id,
						IMDBID:        target.IMDBID,
						LastWatchedAt: at,
						Placeholder:   mut.uuid,
					})
				}
				err := tx.SetMovieWatched(mut.id, false, at)
				if errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				return err
			}, nil
		}
		mut.send = func(ctx context.Context, ids domain.IDs) (domain.SyncResponse, error) {
			items := domain.SyncItems{Movies: []domain.SyncItem{{IDs: ids, WatchedAt: at}}}
			if watched {
				return m.remote.AddToHistory(ctx, items)
			}
			return m.remote.RemoveFromHistory(ctx, items)
		}
		if watched {
			mut.after = func(ctx context.Context, canonical int64) {
				m.clearBookmark(ctx, func(tx *replica.Tx) (*domain.Bookmark, error) {
					return tx.GetBookmark(domain.MediaTypeMovie, canonical)
				})
			}
		}
		return m.submit(ctx, mut)
	}

	var pulled []domain.Episode
	if scope != domain.ScopeItem {
		pulled = m.pullUnknownShow(ctx, target.TraktID)
	}

	mut.plan = func(tx *replica.Tx) ([]domain.Key, func() error, error) {
		if err := localID(tx, mut, domain.MediaTypeShow); err != nil {
			return nil, nil, err
		}
		showID := mut.id
		mut.reconcile = []domain.Key{domain.ShowKey(showID)}

		known, err := tx.ListEpisodes(domain.Filter{ShowID: showID})
		if err != nil {
			return nil, nil, err
		}
		byKey := make(map[domain.Key]*domain.Episode, len(known)+len(pulled))
		keys := []domain.Key{domain.ShowKey(showID)}
		for _, e := range known {
			byKey[e.EntityKey()] = e
		}
		for i := range pulled {
			pulled[i].ShowID = showID
			k := pulled[i].EntityKey()
			if _, ok := byKey[k]; !ok {
				byKey[k] = &pulled[i]
				keys = append(keys, k)
			}
		}

		var selected []domain.Key
		if scope == domain.ScopeItem {
			k := domain.EpisodeKey(showID, target.Season, target.Number)
			if _, ok := byKey[k]; ok || watched {
				selected = append(selected, k)
			}
		} else {
			for _, e := range episodesInScope(byKey, target, scope) {
				if watched && !e.Aired(at) {
					continue
				}
				if !watched && !e.Watched {
					continue
				}
				selected = append(selected, e.EntityKey())
			}
		}
		keys = append(keys, selected...)

		return keys, func() error {
			err := tx.EnsureShow(&domain.Show{TraktID: showID, IMDBID: target.IMDBID, Placeholder: mut.uuid})
			if err != nil {
				return err
			}
			if len(pulled) > 0 {
				if err := tx.InsertEpisodesIfMissing(showID, pulled); err != nil {
					return err
				}
			}
			for _, k := range selected {
				if err := tx.SetEpisodeWatched(showID, k.Season, k.Number, watched, at); err != nil {
					return err
				}
			}
			return tx.RecomputeShowStats(showID)
		}, nil
	}
	mut.send = func(ctx context.Context, ids domain.IDs) (domain.SyncResponse, error) {
		items := showItems(ids, target, scope)
		if watched {
			return m.remote.AddToHistory(ctx, items)
		}
		return m.remote.RemoveFromHistory(ctx, items)
	}
	if watched && scope == domain.ScopeItem {
		mut.after = func(ctx context.Context, canonical int64) {
			m.clearBookmark(ctx, func(tx *replica.Tx) (*domain.Bookmark, error) {
				e, err := tx.GetEpisode(canonical, target.Season, target.Number)
				if err != nil {
					return nil, err
				}
				if e.TraktID == 0 {
					return nil, domain.ErrNotFound
				}
				return tx.GetBookmark(domain.MediaTypeEpisode, e.TraktID)
			})
		}
	}
	return m.submit(ctx, mut)
}

func (m *Manager) watchlist(ctx context.Context, op string, target domain.Target, add bool) (*Pending, error) {
	if target.Type != domain.MediaTypeMovie && target.Type != domain.MediaTypeShow {
		return nil, fmt.Errorf("watchlist %q: %w", target.Type, domain.ErrInvalidScope)
	}
	at := m.opts.Now()
	mut := &mutation{op: op, target: target}
	mut.plan = func(tx *replica.Tx) ([]domain.Key, func() error, error) {
		if err := localID(tx, mut, target.Type); err != nil {
			return nil, nil, err
		}
		key := domain.WatchlistKey(target.Type, mut.id)
		mut.reconcile = []domain.Key{key}
		return []domain.Key{key}, func() error {
			if !add {
				return tx.DeleteWatchlistItem(target.Type, mut.id)
			}
			return tx.UpsertWatchlistItem(&domain.WatchlistItem{
				Type:        target.Type,
				TraktID:     mut.id,
				IMDBID:      target.IMDBID,
				ListedAt:    at,
				Placeholder: mut.uuid,
			})
		}, nil
	}
	mut.send = func(ctx context.Context, ids domain.IDs) (domain.SyncResponse, error) {
		items := itemsFor(target.Type, ids)
		if add {
			return m.remote.AddToWatchlist(ctx, items)
		}
		return m.remote.RemoveFromWatchlist(ctx, items)
	}
	return m.submit(ctx, mut)
}

func (m *Manager) hidden(ctx context.Context, op string, showID int64, hide bool) (*Pending, error) {
	if showID <= 0 {
		return nil, fmt.Errorf("%s: show %d: %w", op, showID, domain.ErrNotFound)
	}
	mut := &mutation{op: op, target: domain.Target{Type: domain.MediaTypeShow, TraktID: showID}, id: showID}
	mut.plan = func(tx *replica.Tx) ([]domain.Key, func() error, error) {
		key := domain.HiddenKey(domain.MediaTypeShow, showID, domain.SectionProgressWatched)
		return []domain.Key{key}, func() error {
			if hide {
				return tx.UpsertHidden(&domain.HiddenItem{TraktID: showID, Type: domain.MediaTypeShow, Section: domain.SectionProgressWatched})
			}
			return tx.DeleteHidden(domain.MediaTypeShow, showID, domain.SectionProgressWatched)
		}, nil
	}
	mut.send = func(ctx context.Context, ids domain.IDs) (domain.SyncResponse, error) {
		items := itemsFor(domain.MediaTypeShow, ids)
		if hide {
			return m.remote.HideFromProgress(ctx, items)
		}
		return m.remote.UnhideFromProgress(ctx, items)
	}
	return m.submit(ctx, mut)
}

// pullUnknownShow fetches the episode list of a show that has no local
// row yet. Failures leave the mutation to create the show row alone.
func (m *Manager) pullUnknownShow(ctx context.Context, showID int64) []domain.Episode {
	if showID <= 0 {
		return nil
	}
	var known bool
	err := m.replica.View(ctx, func(tx *replica.Tx) error {
		var err error
		known, err = tx.ShowExists(showID)
		return err
	})
	if err != nil || known {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	episodes, err := m.remote.GetShowEpisodes(ctx, showID)
	if err != nil {
		m.logger.Warn("failed to pull episodes of unknown show", "show", showID, "error", err)
		return nil
	}
	out := make([]domain.Episode, 0, len(episodes))
	for _, e := range episodes {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// clearBookmark drops the playback position of a freshly watched item,
// remotely first and then locally.
func (m *Manager) clearBookmark(ctx context.Context, find func(tx *replica.Tx) (*domain.Bookmark, error)) {
	var b *domain.Bookmark
	err := m.replica.View(ctx, func(tx *replica.Tx) error {
		var err error
		b, err = find(tx)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		m.logger.Warn("failed to look up bookmark", "error", err)
		return
	}

	if b.PlaybackID != 0 {
		if err := m.remote.RemovePlayback(ctx, b.PlaybackID); err != nil {
			m.logger.Warn("failed to remove playback progress", "playback", b.PlaybackID, "error", err)
			return
		}
	}
	err = m.replica.Update(context.WithoutCancel(ctx), func(tx *replica.Tx) error {
		return tx.DeleteBookmark(b.Type, b.TraktID)
	})
	if err != nil {
		m.logger.Warn("failed to delete bookmark", "error", err)
	}
}

func normalizeScope(t domain.Target, scope domain.Scope) (domain.Scope, error) {
	if scope == "" {
		scope = domain.ScopeItem
		if t.Type == domain.MediaTypeShow {
			scope = domain.ScopeShow
		}
	}
	switch t.Type {
	case domain.MediaTypeMovie:
		if scope == domain.ScopeItem {
			return scope, nil
		}
	case domain.MediaTypeEpisode:
		switch scope {
		case domain.ScopeItem:
			if t.Number > 0 {
				return scope, nil
			}
		case domain.ScopeSeason, domain.ScopeShow:
			return scope, nil
		}
	case domain.MediaTypeShow:
		if scope == domain.ScopeSeason || scope == domain.ScopeShow {
			return scope, nil
		}
	}
	return "", fmt.Errorf("%s scope on %s: %w", scope, t, domain.ErrInvalidScope)
}

// episodesInScope picks the episodes a season or show scope covers.
// Specials only count when their season is addressed directly.
func episodesInScope(episodes map[domain.Key]*domain.Episode, t domain.Target, scope domain.Scope) []*domain.Episode {
	var out []*domain.Episode
	for _, e := range episodes {
		switch scope {
		case domain.ScopeSeason:
			if e.Season != t.Season {
				continue
			}
		case domain.ScopeShow:
			if e.Season <= 0 {
				continue
			}
		}
		out = append(out, e)
	}
	sortEpisodes(out)
	return out
}

func showItems(ids domain.IDs, t domain.Target, scope domain.Scope) domain.SyncItems {
	show := domain.SyncShow{IDs: ids}
	switch scope {
	case domain.ScopeSeason:
		show.Seasons = []domain.SyncSeason{{Number: t.Season}}
	case domain.ScopeItem:
		show.Seasons = []domain.SyncSeason{{Number: t.Season, Episodes: []int{t.Number}}}
	}
	return domain.SyncItems{Shows: []domain.SyncShow{show}}
}

func itemsFor(t domain.MediaType, ids domain.IDs) domain.SyncItems {
	if t == domain.MediaTypeMovie {
		return domain.SyncItems{Movies: []domain.SyncItem{{IDs: ids}}}
	}
	return domain.SyncItems{Shows: []domain.SyncShow{{IDs: ids}}}
}

func sortEpisodes(eps []*domain.Episode) {
	slices.SortFunc(eps, func(a, b *domain.Episode) int {
		if a.Season != b.Season {
			return a.Season - b.Season
		}
		return a.Number - b.Number
	})
}
