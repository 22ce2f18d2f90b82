package replica

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
)

const showColumns = `trakt_id, imdb_id, tvdb_id, tmdb_id, slug, title, year, aired_episodes,
	metadata, watched_episodes, unwatched_episodes, episode_count, placeholder`

const episodeColumns = `show_trakt_id, season, episode, trakt_id, imdb_id, tmdb_id, tvdb_id,
	title, air_date, watched, last_watched_at, collected, collected_at`

// UpsertShow writes the identity fields of a show. Derived statistics are
// left alone; they are owned by RecomputeShowStats. A nil Metadata keeps
// the stored document.
func (t *Tx) UpsertShow(s *domain.Show) error {
	_, err := t.exec(`
INSERT INTO shows (trakt_id, imdb_id, tvdb_id, tmdb_id, slug, title, year, aired_episodes, metadata, placeholder)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(trakt_id) DO UPDATE SET
    imdb_id = COALESCE(excluded.imdb_id, shows.imdb_id),
    tvdb_id = COALESCE(excluded.tvdb_id, shows.tvdb_id),
    tmdb_id = COALESCE(excluded.tmdb_id, shows.tmdb_id),
    slug = COALESCE(excluded.slug, shows.slug),
    title = CASE WHEN excluded.title = '' THEN shows.title ELSE excluded.title END,
    year = CASE WHEN excluded.year = 0 THEN shows.year ELSE excluded.year END,
    aired_episodes = MAX(excluded.aired_episodes, shows.aired_episodes),
    metadata = COALESCE(excluded.metadata, shows.metadata)`,
		s.TraktID, nullString(s.IMDBID), nullInt(s.TVDBID), nullInt(s.TMDBID), nullString(s.Slug),
		s.Title, s.Year, s.AiredEpisodes, nullBlob(s.Metadata), nullString(s.Placeholder),
	)
	if err != nil {
		return fmt.Errorf("upsert show %d: %w", s.TraktID, err)
	}
	return nil
}

// EnsureShow inserts a show row only if none exists.
func (t *Tx) EnsureShow(s *domain.Show) error {
	_, err := t.exec(`
INSERT OR IGNORE INTO shows (trakt_id, imdb_id, tvdb_id, tmdb_id, slug, title, year, aired_episodes, metadata, placeholder)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.TraktID, nullString(s.IMDBID), nullInt(s.TVDBID), nullInt(s.TMDBID), nullString(s.Slug),
		s.Title, s.Year, s.AiredEpisodes, nullBlob(s.Metadata), nullString(s.Placeholder),
	)
	if err != nil {
		return fmt.Errorf("ensure show %d: %w", s.TraktID, err)
	}
	return nil
}

// ShowExists reports whether a show row is present.
func (t *Tx) ShowExists(id int64) (bool, error) {
	var found int
	err := t.queryRow(`SELECT 1 FROM shows WHERE trakt_id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check show %d: %w", id, err)
	}
	return true, nil
}

func (t *Tx) requireShow(id int64) error {
	ok, err := t.ShowExists(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("show %d: %w", id, domain.ErrShowNotFound)
	}
	return nil
}

// GetShow returns a show by Trakt ID.
func (t *Tx) GetShow(id int64) (*domain.Show, error) {
	row := t.queryRow(`SELECT `+showColumns+` FROM shows WHERE trakt_id = ?`, id)
	s, err := scanShow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("show %d: %w", id, domain.ErrNotFound)
	}
	return s, err
}

// ListShows returns shows ordered by title.
func (t *Tx) ListShows(f domain.Filter) ([]*domain.Show, error) {
	q := `SELECT ` + showColumns + ` FROM shows ORDER BY title COLLATE NOCASE, trakt_id`
	var args []any
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	defer rows.Close()

	var out []*domain.Show
	for rows.Next() {
		s, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteShow removes a show and all of its episodes.
func (t *Tx) DeleteShow(id int64) error {
	if _, err := t.exec(`DELETE FROM episodes WHERE show_trakt_id = ?`, id); err != nil {
		return fmt.Errorf("delete episodes of show %d: %w", id, err)
	}
	if _, err := t.exec(`DELETE FROM shows WHERE trakt_id = ?`, id); err != nil {
		return fmt.Errorf("delete show %d: %w", id, err)
	}
	return nil
}

// UpsertEpisode writes every field of an episode. The parent show must exist.
func (t *Tx) UpsertEpisode(e *domain.Episode) error {
	if err := t.requireShow(e.ShowID); err != nil {
		return err
	}
	_, err := t.exec(`
INSERT INTO episodes (`+episodeColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(show_trakt_id, season, episode) DO UPDATE SET
    trakt_id = COALESCE(excluded.trakt_id, episodes.trakt_id),
    imdb_id = COALESCE(excluded.imdb_id, episodes.imdb_id),
    tmdb_id = COALESCE(excluded.tmdb_id, episodes.tmdb_id),
    tvdb_id = COALESCE(excluded.tvdb_id, episodes.tvdb_id),
    title = CASE WHEN excluded.title = '' THEN episodes.title ELSE excluded.title END,
    air_date = COALESCE(excluded.air_date, episodes.air_date),
    watched = excluded.watched,
    last_watched_at = excluded.last_watched_at,
    collected = excluded.collected,
    collected_at = excluded.collected_at`,
		episodeArgs(e)...,
	)
	if err != nil {
		return fmt.Errorf("upsert episode %s: %w", e.EntityKey(), err)
	}
	return nil
}

// InsertEpisodesIfMissing records the full episode list of a show. New rows
// start unwatched; existing rows keep their watched and collected state and
// only have their descriptive fields refreshed.
func (t *Tx) InsertEpisodesIfMissing(showID int64, episodes []domain.Episode) error {
	if err := t.requireShow(showID); err != nil {
		return err
	}
	for i := range episodes {
		e := episodes[i]
		e.ShowID = showID
		_, err := t.exec(`
INSERT INTO episodes (show_trakt_id, season, episode, trakt_id, imdb_id, tmdb_id, tvdb_id, title, air_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(show_trakt_id, season, episode) DO UPDATE SET
    trakt_id = COALESCE(excluded.trakt_id, episodes.trakt_id),
    imdb_id = COALESCE(excluded.imdb_id, episodes.imdb_id),
    tmdb_id = COALESCE(excluded.tmdb_id, episodes.tmdb_id),
    tvdb_id = COALESCE(excluded.tvdb_id, episodes.tvdb_id),
    title = CASE WHEN excluded.title = '' THEN episodes.title ELSE excluded.title END,
    air_date = COALESCE(excluded.air_date, episodes.air_date)`,
			e.ShowID, e.Season, e.Number, nullInt(e.TraktID), nullString(e.IMDBID),
			nullInt(e.TMDBID), nullInt(e.TVDBID), e.Title, fmtTime(e.AirDate),
		)
		if err != nil {
			return fmt.Errorf("insert episode %s: %w", e.EntityKey(), err)
		}
	}
	return nil
}

// MarkEpisodesWatched overlays watched markers on a show's episodes,
// creating rows that are not yet known. Episodes not listed are untouched.
func (t *Tx) MarkEpisodesWatched(showID int64, episodes []domain.Episode) error {
	if err := t.requireShow(showID); err != nil {
		return err
	}
	for i := range episodes {
		e := episodes[i]
		_, err := t.exec(`
INSERT INTO episodes (show_trakt_id, season, episode, trakt_id, watched, last_watched_at)
VALUES (?, ?, ?, ?, 1, ?)
ON CONFLICT(show_trakt_id, season, episode) DO UPDATE SET
    trakt_id = COALESCE(excluded.trakt_id, episodes.trakt_id),
    watched = 1,
    last_watched_at = COALESCE(excluded.last_watched_at, episodes.last_watched_at)`,
			showID, e.Season, e.Number, nullInt(e.TraktID), fmtTime(e.LastWatchedAt),
		)
		if err != nil {
			return fmt.Errorf("mark episode S%02dE%02d of show %d: %w", e.Season, e.Number, showID, err)
		}
	}
	return nil
}

// SetEpisodeWatched flips the watched flag of one episode, creating the row
// when the show is known but the episode is not.
func (t *Tx) SetEpisodeWatched(showID int64, season, number int, watched bool, at time.Time) error {
	if err := t.requireShow(showID); err != nil {
		return err
	}
	var lastWatched any
	if watched {
		lastWatched = fmtTime(at)
	}
	_, err := t.exec(`
INSERT INTO episodes (show_trakt_id, season, episode, watched, last_watched_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(show_trakt_id, season, episode) DO UPDATE SET
    watched = excluded.watched,
    last_watched_at = excluded.last_watched_at`,
		showID, season, number, boolInt(watched), lastWatched,
	)
	if err != nil {
		return fmt.Errorf("set episode S%02dE%02d of show %d: %w", season, number, showID, err)
	}
	return nil
}

// ReplaceEpisodeCollection resets every collected flag and sets it again for
// the pulled episodes, creating rows for episodes not yet known.
func (t *Tx) ReplaceEpisodeCollection(collected map[int64][]domain.Episode) error {
	if _, err := t.exec(`UPDATE episodes SET collected = 0, collected_at = NULL WHERE collected = 1`); err != nil {
		return fmt.Errorf("reset episode collection: %w", err)
	}
	for showID, episodes := range collected {
		if err := t.requireShow(showID); err != nil {
			return err
		}
		for _, e := range episodes {
			_, err := t.exec(`
INSERT INTO episodes (show_trakt_id, season, episode, collected, collected_at)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT(show_trakt_id, season, episode) DO UPDATE SET
    collected = 1,
    collected_at = excluded.collected_at`,
				showID, e.Season, e.Number, fmtTime(e.CollectedAt),
			)
			if err != nil {
				return fmt.Errorf("collect episode S%02dE%02d of show %d: %w", e.Season, e.Number, showID, err)
			}
		}
	}
	return nil
}

// EpisodeCount returns the number of locally known regular (non-special)
// episodes of a show.
func (t *Tx) EpisodeCount(showID int64) (int, error) {
	var n int
	if err := t.queryRow(`SELECT COUNT(*) FROM episodes WHERE show_trakt_id = ? AND season > 0`, showID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count episodes of show %d: %w", showID, err)
	}
	return n, nil
}

// GetEpisode returns one episode.
func (t *Tx) GetEpisode(showID int64, season, number int) (*domain.Episode, error) {
	row := t.queryRow(`SELECT `+episodeColumns+` FROM episodes
WHERE show_trakt_id = ? AND season = ? AND episode = ?`, showID, season, number)
	e, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("episode S%02dE%02d of show %d: %w", season, number, showID, domain.ErrNotFound)
	}
	return e, err
}

// ListEpisodes returns episodes matching f, in airing order.
func (t *Tx) ListEpisodes(f domain.Filter) ([]*domain.Episode, error) {
	var (
		where []string
		args  []any
	)
	if f.ShowID != 0 {
		where = append(where, "show_trakt_id = ?")
		args = append(args, f.ShowID)
	}
	if f.Season != nil {
		where = append(where, "season = ?")
		args = append(args, *f.Season)
	}
	if f.Watched != nil {
		where = append(where, "watched = ?")
		args = append(args, boolInt(*f.Watched))
	}
	if f.Collected != nil {
		where = append(where, "collected = ?")
		args = append(args, boolInt(*f.Collected))
	}

	q := `SELECT ` + episodeColumns + ` FROM episodes` + whereClause(where) +
		` ORDER BY show_trakt_id, season, episode`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []*domain.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEpisode removes one episode row.
func (t *Tx) DeleteEpisode(showID int64, season, number int) error {
	_, err := t.exec(`DELETE FROM episodes WHERE show_trakt_id = ? AND season = ? AND episode = ?`,
		showID, season, number)
	if err != nil {
		return fmt.Errorf("delete episode S%02dE%02d of show %d: %w", season, number, showID, err)
	}
	return nil
}

func episodeArgs(e *domain.Episode) []any {
	return []any{
		e.ShowID, e.Season, e.Number, nullInt(e.TraktID), nullString(e.IMDBID),
		nullInt(e.TMDBID), nullInt(e.TVDBID), e.Title, fmtTime(e.AirDate),
		boolInt(e.Watched), fmtTime(e.LastWatchedAt), boolInt(e.Collected), fmtTime(e.CollectedAt),
	}
}

func scanShow(row scanner) (*domain.Show, error) {
	var (
		s                        domain.Show
		imdb, slug, meta, holder sql.NullString
		tvdb, tmdb               sql.NullInt64
	)
	err := row.Scan(&s.TraktID, &imdb, &tvdb, &tmdb, &slug, &s.Title, &s.Year, &s.AiredEpisodes,
		&meta, &s.WatchedEpisodes, &s.UnwatchedEpisodes, &s.EpisodeCount, &holder)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan show: %w", err)
	}
	s.IMDBID = imdb.String
	s.Slug = slug.String
	s.TVDBID = tvdb.Int64
	s.TMDBID = tmdb.Int64
	s.Metadata = rawBlob(meta)
	s.Placeholder = holder.String
	return &s, nil
}

func scanEpisode(row scanner) (*domain.Episode, error) {
	var (
		e                                domain.Episode
		traktID, tmdb, tvdb              sql.NullInt64
		imdb, airDate, lastWatched, coll sql.NullString
		watched, collected               int
	)
	err := row.Scan(&e.ShowID, &e.Season, &e.Number, &traktID, &imdb, &tmdb, &tvdb,
		&e.Title, &airDate, &watched, &lastWatched, &collected, &coll)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan episode: %w", err)
	}
	e.TraktID = traktID.Int64
	e.IMDBID = imdb.String
	e.TMDBID = tmdb.Int64
	e.TVDBID = tvdb.Int64
	e.AirDate = parseTime(airDate)
	e.Watched = watched != 0
	e.LastWatchedAt = parseTime(lastWatched)
	e.Collected = collected != 0
	e.CollectedAt = parseTime(coll)
	return &e, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
