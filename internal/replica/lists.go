package replica

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmcdole/kinosync/internal/domain"
)

// === Watchlist ===

// ReplaceWatchlist swaps the whole watchlist of one media type for items.
func (t *Tx) ReplaceWatchlist(mediaType domain.MediaType, items []domain.WatchlistItem) error {
	if _, err := t.exec(`DELETE FROM watchlist WHERE mediatype = ?`, string(mediaType)); err != nil {
		return fmt.Errorf("clear %s watchlist: %w", mediaType, err)
	}
	for i := range items {
		item := items[i]
		item.Type = mediaType
		if err := t.UpsertWatchlistItem(&item); err != nil {
			return err
		}
	}
	return nil
}

// UpsertWatchlistItem adds or updates one watchlist row. An empty
// placeholder keeps the stored one.
func (t *Tx) UpsertWatchlistItem(w *domain.WatchlistItem) error {
	_, err := t.exec(`
INSERT INTO watchlist (trakt_id, mediatype, imdb_id, title, year, listed_at, placeholder)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(trakt_id, mediatype) DO UPDATE SET
    imdb_id = COALESCE(excluded.imdb_id, watchlist.imdb_id),
    title = CASE WHEN excluded.title = '' THEN watchlist.title ELSE excluded.title END,
    year = CASE WHEN excluded.year = 0 THEN watchlist.year ELSE excluded.year END,
    listed_at = excluded.listed_at,
    placeholder = COALESCE(excluded.placeholder, watchlist.placeholder)`,
		w.TraktID, string(w.Type), nullString(w.IMDBID), w.Title, w.Year,
		fmtTime(w.ListedAt), nullString(w.Placeholder),
	)
	if err != nil {
		return fmt.Errorf("upsert watchlist %s %d: %w", w.Type, w.TraktID, err)
	}
	return nil
}

// DeleteWatchlistItem removes one watchlist row.
func (t *Tx) DeleteWatchlistItem(mediaType domain.MediaType, id int64) error {
	_, err := t.exec(`DELETE FROM watchlist WHERE trakt_id = ? AND mediatype = ?`, id, string(mediaType))
	if err != nil {
		return fmt.Errorf("delete watchlist %s %d: %w", mediaType, id, err)
	}
	return nil
}

// GetWatchlistItem returns one watchlist row.
func (t *Tx) GetWatchlistItem(mediaType domain.MediaType, id int64) (*domain.WatchlistItem, error) {
	row := t.queryRow(`SELECT trakt_id, mediatype, imdb_id, title, year, listed_at, placeholder
FROM watchlist WHERE trakt_id = ? AND mediatype = ?`, id, string(mediaType))
	w, err := scanWatchlist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("watchlist %s %d: %w", mediaType, id, domain.ErrNotFound)
	}
	return w, err
}

// ListWatchlist returns watchlist rows, most recently listed first.
func (t *Tx) ListWatchlist(f domain.Filter) ([]*domain.WatchlistItem, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "mediatype = ?")
		args = append(args, string(f.Type))
	}
	q := `SELECT trakt_id, mediatype, imdb_id, title, year, listed_at, placeholder FROM watchlist` +
		whereClause(where) + ` ORDER BY listed_at DESC, trakt_id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var out []*domain.WatchlistItem
	for rows.Next() {
		w, err := scanWatchlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWatchlist(row scanner) (*domain.WatchlistItem, error) {
	var (
		w                    domain.WatchlistItem
		mediaType            string
		imdb, listed, holder sql.NullString
	)
	if err := row.Scan(&w.TraktID, &mediaType, &imdb, &w.Title, &w.Year, &listed, &holder); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan watchlist: %w", err)
	}
	w.Type = domain.MediaType(mediaType)
	w.IMDBID = imdb.String
	w.ListedAt = parseTime(listed)
	w.Placeholder = holder.String
	return &w, nil
}

// === Bookmarks ===

// UpsertBookmark records a paused playback position.
func (t *Tx) UpsertBookmark(b *domain.Bookmark) error {
	_, err := t.exec(`
INSERT INTO bookmarks (trakt_id, mediatype, playback_id, resume_seconds, percent, paused_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(trakt_id, mediatype) DO UPDATE SET
    playback_id = excluded.playback_id,
    resume_seconds = excluded.resume_seconds,
    percent = excluded.percent,
    paused_at = excluded.paused_at`,
		b.TraktID, string(b.Type), nullInt(b.PlaybackID), b.ResumeSeconds, b.Percent, fmtTime(b.PausedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert bookmark %s %d: %w", b.Type, b.TraktID, err)
	}
	return nil
}

// DeleteBookmark removes the bookmark of one item.
func (t *Tx) DeleteBookmark(mediaType domain.MediaType, id int64) error {
	_, err := t.exec(`DELETE FROM bookmarks WHERE trakt_id = ? AND mediatype = ?`, id, string(mediaType))
	if err != nil {
		return fmt.Errorf("delete bookmark %s %d: %w", mediaType, id, err)
	}
	return nil
}

// GetBookmark returns the bookmark of one item.
func (t *Tx) GetBookmark(mediaType domain.MediaType, id int64) (*domain.Bookmark, error) {
	row := t.queryRow(`SELECT trakt_id, mediatype, playback_id, resume_seconds, percent, paused_at
FROM bookmarks WHERE trakt_id = ? AND mediatype = ?`, id, string(mediaType))
	b, err := scanBookmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bookmark %s %d: %w", mediaType, id, domain.ErrNotFound)
	}
	return b, err
}

// FindBookmarkByPlayback returns the bookmark carrying a remote playback ID.
func (t *Tx) FindBookmarkByPlayback(playbackID int64) (*domain.Bookmark, error) {
	row := t.queryRow(`SELECT trakt_id, mediatype, playback_id, resume_seconds, percent, paused_at
FROM bookmarks WHERE playback_id = ?`, playbackID)
	b, err := scanBookmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("playback %d: %w", playbackID, domain.ErrNotFound)
	}
	return b, err
}

// ListBookmarks returns bookmarks, most recently paused first.
func (t *Tx) ListBookmarks(f domain.Filter) ([]*domain.Bookmark, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "mediatype = ?")
		args = append(args, string(f.Type))
	}
	q := `SELECT trakt_id, mediatype, playback_id, resume_seconds, percent, paused_at FROM bookmarks` +
		whereClause(where) + ` ORDER BY paused_at DESC, trakt_id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBookmark(row scanner) (*domain.Bookmark, error) {
	var (
		b         domain.Bookmark
		mediaType string
		playback  sql.NullInt64
		paused    sql.NullString
	)
	if err := row.Scan(&b.TraktID, &mediaType, &playback, &b.ResumeSeconds, &b.Percent, &paused); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan bookmark: %w", err)
	}
	b.Type = domain.MediaType(mediaType)
	b.PlaybackID = playback.Int64
	b.PausedAt = parseTime(paused)
	return &b, nil
}

// === Hidden ===

// ReplaceHidden swaps every hidden marker of one section for items.
func (t *Tx) ReplaceHidden(section string, items []domain.HiddenItem) error {
	if _, err := t.exec(`DELETE FROM hidden WHERE section = ?`, section); err != nil {
		return fmt.Errorf("clear hidden %s: %w", section, err)
	}
	for i := range items {
		item := items[i]
		item.Section = section
		if err := t.UpsertHidden(&item); err != nil {
			return err
		}
	}
	return nil
}

// UpsertHidden records one hidden marker.
func (t *Tx) UpsertHidden(h *domain.HiddenItem) error {
	_, err := t.exec(`INSERT OR IGNORE INTO hidden (trakt_id, mediatype, section) VALUES (?, ?, ?)`,
		h.TraktID, string(h.Type), h.Section)
	if err != nil {
		return fmt.Errorf("hide %s %d in %s: %w", h.Type, h.TraktID, h.Section, err)
	}
	return nil
}

// DeleteHidden removes one hidden marker.
func (t *Tx) DeleteHidden(mediaType domain.MediaType, id int64, section string) error {
	_, err := t.exec(`DELETE FROM hidden WHERE trakt_id = ? AND mediatype = ? AND section = ?`,
		id, string(mediaType), section)
	if err != nil {
		return fmt.Errorf("unhide %s %d in %s: %w", mediaType, id, section, err)
	}
	return nil
}

// IsHidden reports whether an item is hidden in section.
func (t *Tx) IsHidden(mediaType domain.MediaType, id int64, section string) (bool, error) {
	var found int
	err := t.queryRow(`SELECT 1 FROM hidden WHERE trakt_id = ? AND mediatype = ? AND section = ?`,
		id, string(mediaType), section).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check hidden: %w", err)
	}
	return true, nil
}

// ListHidden returns hidden markers matching f.
func (t *Tx) ListHidden(f domain.Filter) ([]*domain.HiddenItem, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "mediatype = ?")
		args = append(args, string(f.Type))
	}
	if f.Section != "" {
		where = append(where, "section = ?")
		args = append(args, f.Section)
	}
	q := `SELECT trakt_id, mediatype, section FROM hidden` + whereClause(where) +
		` ORDER BY section, mediatype, trakt_id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := t.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list hidden: %w", err)
	}
	defer rows.Close()

	var out []*domain.HiddenItem
	for rows.Next() {
		var (
			h         domain.HiddenItem
			mediaType string
		)
		if err := rows.Scan(&h.TraktID, &mediaType, &h.Section); err != nil {
			return nil, fmt.Errorf("scan hidden: %w", err)
		}
		h.Type = domain.MediaType(mediaType)
		out = append(out, &h)
	}
	return out, rows.Err()
}
