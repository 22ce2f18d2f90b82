package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mmcdole/kinosync/internal/domain"
)

// RecomputeShowStats refreshes the derived episode counts of the given
// shows, or of every show when none are given. Specials and episodes that
// have not aired yet are excluded; the unwatched count is taken against
// the larger of the remote aired count and the local aired count.
func (t *Tx) RecomputeShowStats(showIDs ...int64) error {
	where := ""
	ids := make([]any, 0, len(showIDs))
	if len(showIDs) > 0 {
		where = " WHERE trakt_id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(showIDs)), ",") + ")"
		for _, id := range showIDs {
			ids = append(ids, id)
		}
	}
	args := append([]any{fmtTime(t.now)}, ids...)
	_, err := t.exec(`
UPDATE shows SET
    watched_episodes = (SELECT COUNT(*) FROM episodes e
        WHERE e.show_trakt_id = shows.trakt_id AND e.season > 0 AND e.watched = 1),
    episode_count = (SELECT COUNT(*) FROM episodes e
        WHERE e.show_trakt_id = shows.trakt_id AND e.season > 0
          AND e.air_date IS NOT NULL AND e.air_date < ?)`+where, args...)
	if err != nil {
		return fmt.Errorf("recompute show counts: %w", err)
	}
	_, err = t.exec(`
UPDATE shows SET unwatched_episodes = MAX(MAX(aired_episodes, episode_count) - watched_episodes, 0)`+where, ids...)
	if err != nil {
		return fmt.Errorf("recompute unwatched counts: %w", err)
	}
	return nil
}

// NextUnwatched returns the first aired, unwatched, non-special episode
// after the highest watched one. It returns domain.ErrNotFound when the
// show is caught up.
func (t *Tx) NextUnwatched(showID int64) (*domain.Episode, error) {
	var season, number int
	err := t.queryRow(`
SELECT season, episode FROM episodes
WHERE show_trakt_id = ? AND season > 0 AND watched = 1
ORDER BY season DESC, episode DESC LIMIT 1`, showID).Scan(&season, &number)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("highest watched episode of show %d: %w", showID, err)
	}

	row := t.queryRow(`SELECT `+episodeColumns+` FROM episodes
WHERE show_trakt_id = ? AND season > 0 AND watched = 0
  AND air_date IS NOT NULL AND air_date < ?
  AND (season > ? OR (season = ? AND episode > ?))
ORDER BY season, episode LIMIT 1`,
		showID, fmtTime(t.now), season, season, number)
	e, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("next episode of show %d: %w", showID, domain.ErrNotFound)
	}
	return e, err
}

// NextUp returns the next episode of every show in progress, most recently
// watched first. Shows hidden from watched progress are skipped.
func (t *Tx) NextUp(limit int) ([]domain.NextEpisode, error) {
	rows, err := t.query(`
SELECT e.show_trakt_id, MAX(e.last_watched_at) AS last_watched
FROM episodes e
WHERE e.watched = 1 AND e.season > 0
  AND NOT EXISTS (SELECT 1 FROM hidden h
      WHERE h.trakt_id = e.show_trakt_id AND h.mediatype = 'show' AND h.section = ?)
GROUP BY e.show_trakt_id
ORDER BY last_watched DESC, e.show_trakt_id`, domain.SectionProgressWatched)
	if err != nil {
		return nil, fmt.Errorf("shows in progress: %w", err)
	}

	type progress struct {
		showID      int64
		lastWatched sql.NullString
	}
	var inProgress []progress
	for rows.Next() {
		var p progress
		if err := rows.Scan(&p.showID, &p.lastWatched); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan show progress: %w", err)
		}
		inProgress = append(inProgress, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []domain.NextEpisode
	for _, p := range inProgress {
		if limit > 0 && len(out) >= limit {
			break
		}
		ep, err := t.NextUnwatched(p.showID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		show, err := t.GetShow(p.showID)
		if err != nil {
			return nil, err
		}
		next := domain.NextEpisode{Show: show, Episode: ep, LastWatchedAt: parseTime(p.lastWatched)}
		if ep.TraktID != 0 {
			if b, err := t.GetBookmark(domain.MediaTypeEpisode, ep.TraktID); err == nil {
				next.Bookmark = b
			} else if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
		}
		out = append(out, next)
	}
	return out, nil
}

// FindByIMDB resolves a secondary IMDB ID to the canonical Trakt ID of a
// locally known movie, show or watchlist row.
func (t *Tx) FindByIMDB(mediaType domain.MediaType, imdbID string) (int64, error) {
	var q string
	switch mediaType {
	case domain.MediaTypeMovie:
		q = `SELECT trakt_id FROM movies WHERE imdb_id = ?
UNION ALL SELECT trakt_id FROM watchlist WHERE imdb_id = ? AND mediatype = 'movie'`
	case domain.MediaTypeShow:
		q = `SELECT trakt_id FROM shows WHERE imdb_id = ?
UNION ALL SELECT trakt_id FROM watchlist WHERE imdb_id = ? AND mediatype = 'show'`
	default:
		return 0, fmt.Errorf("imdb lookup for %q: %w", mediaType, domain.ErrNotFound)
	}

	rows, err := t.query(q, imdbID, imdbID)
	if err != nil {
		return 0, fmt.Errorf("find %s by imdb %s: %w", mediaType, imdbID, err)
	}
	defer rows.Close()

	// Canonical rows win over placeholders
	var found int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan imdb lookup: %w", err)
		}
		if found == 0 || (found < 0 && id > 0) {
			found = id
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, fmt.Errorf("%s %s: %w", mediaType, imdbID, domain.ErrNotFound)
	}
	return found, nil
}

// NextUnwatched returns the next episode to watch for a show.
func (s *Store) NextUnwatched(ctx context.Context, showID int64) (*domain.Episode, error) {
	var ep *domain.Episode
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		ep, err = tx.NextUnwatched(showID)
		return err
	})
	return ep, err
}

// NextUp returns up to limit next episodes across shows in progress.
func (s *Store) NextUp(ctx context.Context, limit int) ([]domain.NextEpisode, error) {
	var out []domain.NextEpisode
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.NextUp(limit)
		return err
	})
	return out, err
}

// FindByIMDB resolves an IMDB ID against local rows.
func (s *Store) FindByIMDB(ctx context.Context, mediaType domain.MediaType, imdbID string) (int64, error) {
	var id int64
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.FindByIMDB(mediaType, imdbID)
		return err
	})
	return id, err
}
