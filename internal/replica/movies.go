package replica

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
)

const movieColumns = `trakt_id, imdb_id, tmdb_id, title, year, watched, last_watched_at,
	collected, collected_at, metadata, placeholder`

// UpsertMovie writes every field of a movie. A nil Metadata keeps the
// stored document.
func (t *Tx) UpsertMovie(m *domain.Movie) error {
	_, err := t.exec(`
INSERT INTO movies (`+movieColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(trakt_id) DO UPDATE SET
    imdb_id = COALESCE(excluded.imdb_id, movies.imdb_id),
    tmdb_id = COALESCE(excluded.tmdb_id, movies.tmdb_id),
    title = CASE WHEN excluded.title = '' THEN movies.title ELSE excluded.title END,
    year = CASE WHEN excluded.year = 0 THEN movies.year ELSE excluded.year END,
    watched = excluded.watched,
    last_watched_at = excluded.last_watched_at,
    collected = excluded.collected,
    collected_at = excluded.collected_at,
    metadata = COALESCE(excluded.metadata, movies.metadata)`,
		m.TraktID, nullString(m.IMDBID), nullInt(m.TMDBID), m.Title, m.Year,
		boolInt(m.Watched), fmtTime(m.LastWatchedAt), boolInt(m.Collected), fmtTime(m.CollectedAt),
		nullBlob(m.Metadata), nullString(m.Placeholder),
	)
	if err != nil {
		return fmt.Errorf("upsert movie %d: %w", m.TraktID, err)
	}
	return nil
}

// MarkMovieWatched records a watched movie from a pull, keeping its
// collection state.
func (t *Tx) MarkMovieWatched(m *domain.Movie) error {
	_, err := t.exec(`
INSERT INTO movies (trakt_id, imdb_id, tmdb_id, title, year, watched, last_watched_at, placeholder)
VALUES (?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(trakt_id) DO UPDATE SET
    imdb_id = COALESCE(excluded.imdb_id, movies.imdb_id),
    tmdb_id = COALESCE(excluded.tmdb_id, movies.tmdb_id),
    title = CASE WHEN excluded.title = '' THEN movies.title ELSE excluded.title END,
    year = CASE WHEN excluded.year = 0 THEN movies.year ELSE excluded.year END,
    watched = 1,
    last_watched_at = COALESCE(excluded.last_watched_at, movies.last_watched_at)`,
		m.TraktID, nullString(m.IMDBID), nullInt(m.TMDBID), m.Title, m.Year,
		fmtTime(m.LastWatchedAt), nullString(m.Placeholder),
	)
	if err != nil {
		return fmt.Errorf("mark movie %d watched: %w", m.TraktID, err)
	}
	return nil
}

// SetMovieWatched flips the watched flag of a known movie.
func (t *Tx) SetMovieWatched(id int64, watched bool, at time.Time) error {
	var lastWatched any
	if watched {
		lastWatched = fmtTime(at)
	}
	res, err := t.exec(`UPDATE movies SET watched = ?, last_watched_at = ? WHERE trakt_id = ?`,
		boolInt(watched), lastWatched, id)
	if err != nil {
		return fmt.Errorf("set movie %d watched: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("movie %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ReplaceMovieCollection resets every collected flag and sets it again for
// the pulled movies.
func (t *Tx) ReplaceMovieCollection(movies []domain.Movie) error {
	if _, err := t.exec(`UPDATE movies SET collected = 0, collected_at = NULL WHERE collected = 1`); err != nil {
		return fmt.Errorf("reset movie collection: %w", err)
	}
	for _, m := range movies {
		_, err := t.exec(`
INSERT INTO movies (trakt_id, imdb_id, tmdb_id, title, year, collected, collected_at)
VALUES (?, ?, ?, ?, ?, 1, ?)
ON CONFLICT(trakt_id) DO UPDATE SET
    imdb_id = COALESCE(excluded.imdb_id, movies.imdb_id),
    tmdb_id = COALESCE(excluded.tmdb_id, movies.tmdb_id),
    title = CASE WHEN excluded.title = '' THEN movies.title ELSE excluded.title END,
    year = CASE WHEN excluded.year = 0 THEN movies.year ELSE excluded.year END,
    collected = 1,
    collected_at = excluded.collected_at`,
			m.TraktID, nullString(m.IMDBID), nullInt(m.TMDBID), m.Title, m.Year, fmtTime(m.CollectedAt),
		)
		if err != nil {
			return fmt.Errorf("collect movie %d: %w", m.TraktID, err)
		}
	}
	return nil
}

// GetMovie returns a movie by Trakt ID.
func (t *Tx) GetMovie(id int64) (*domain.Movie, error) {
	row := t.queryRow(`SELECT `+movieColumns+` FROM movies WHERE trakt_id = ?`, id)
	m, err := scanMovie(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("movie %d: %w", id, domain.ErrNotFound)
	}
	return m, err
}

// ListMovies returns movies matching f ordered by title.
func (t *Tx) ListMovies(f domain.Filter) ([]*domain.Movie, error) {
	var (
		where []string
		args  []any
	)
	if f.Watched != nil {
		where = append(where, "watched = ?")
		args = append(args, boolInt(*f.Watched))
	}
	if f.Collected != nil {
		where = append(where, "collected = ?")
		args = append(args, boolInt(*f.Collected))
	}
	q := `SELECT ` + movieColumns + ` FROM movies` + whereClause(where) +
		` ORDER BY title COLLATE NOCASE, trakt_id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	defer rows.Close()

	var out []*domain.Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMovie removes a movie row.
func (t *Tx) DeleteMovie(id int64) error {
	if _, err := t.exec(`DELETE FROM movies WHERE trakt_id = ?`, id); err != nil {
		return fmt.Errorf("delete movie %d: %w", id, err)
	}
	return nil
}

func scanMovie(row scanner) (*domain.Movie, error) {
	var (
		m                             domain.Movie
		imdb, lastWatched, coll, meta sql.NullString
		holder                        sql.NullString
		tmdb                          sql.NullInt64
		watched, collected            int
	)
	err := row.Scan(&m.TraktID, &imdb, &tmdb, &m.Title, &m.Year, &watched, &lastWatched,
		&collected, &coll, &meta, &holder)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan movie: %w", err)
	}
	m.IMDBID = imdb.String
	m.TMDBID = tmdb.Int64
	m.Watched = watched != 0
	m.LastWatchedAt = parseTime(lastWatched)
	m.Collected = collected != 0
	m.CollectedAt = parseTime(coll)
	m.Metadata = rawBlob(meta)
	m.Placeholder = holder.String
	return &m, nil
}
