package replica

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mmcdole/kinosync/internal/domain"
)

// SnapshotRow is the captured state of one row. A nil Entity means the row
// did not exist.
type SnapshotRow struct {
	Key    domain.Key
	Entity domain.Entity
}

// Snapshot is an exact pre-mutation row set.
type Snapshot []SnapshotRow

// Keys returns the keys covered by the snapshot.
func (s Snapshot) Keys() []domain.Key {
	keys := make([]domain.Key, len(s))
	for i, row := range s {
		keys[i] = row.Key
	}
	return keys
}

// SnapshotRows captures the current state of every keyed row. Capturing the
// same key twice keeps the first capture.
func (t *Tx) SnapshotRows(keys []domain.Key) (Snapshot, error) {
	seen := make(map[domain.Key]bool, len(keys))
	out := make(Snapshot, 0, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		e, err := t.Get(key)
		if errors.Is(err, domain.ErrNotFound) {
			out = append(out, SnapshotRow{Key: key})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", key, err)
		}
		out = append(out, SnapshotRow{Key: key, Entity: e})
	}
	return out, nil
}

// RestoreRows puts every captured row back exactly as it was: rows that did
// not exist are deleted, the rest are overwritten field for field.
func (t *Tx) RestoreRows(snap Snapshot) error {
	var deletes, puts []SnapshotRow
	for _, row := range snap {
		if row.Entity == nil {
			deletes = append(deletes, row)
		} else {
			puts = append(puts, row)
		}
	}

	// Children go before parents when deleting, parents first when writing
	sort.SliceStable(deletes, func(i, j int) bool {
		return restoreRank(deletes[i].Key.Kind) > restoreRank(deletes[j].Key.Kind)
	})
	sort.SliceStable(puts, func(i, j int) bool {
		return restoreRank(puts[i].Key.Kind) < restoreRank(puts[j].Key.Kind)
	})

	for _, row := range deletes {
		if row.Key.Kind == domain.EntityShow {
			if _, err := t.exec(`DELETE FROM shows WHERE trakt_id = ?`, row.Key.TraktID); err != nil {
				return fmt.Errorf("restore %s: %w", row.Key, err)
			}
			continue
		}
		if err := t.Delete(row.Key); err != nil {
			return fmt.Errorf("restore %s: %w", row.Key, err)
		}
	}
	for _, row := range puts {
		if err := t.putExact(row.Entity); err != nil {
			return fmt.Errorf("restore %s: %w", row.Key, err)
		}
	}
	return nil
}

func restoreRank(kind domain.EntityKind) int {
	if kind == domain.EntityEpisode {
		return 1
	}
	return 0
}

// putExact overwrites a row with every captured column, derived ones
// included.
func (t *Tx) putExact(e domain.Entity) error {
	switch v := e.(type) {
	case *domain.Show:
		_, err := t.exec(`INSERT OR REPLACE INTO shows (`+showColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.TraktID, nullString(v.IMDBID), nullInt(v.TVDBID), nullInt(v.TMDBID), nullString(v.Slug),
			v.Title, v.Year, v.AiredEpisodes, nullBlob(v.Metadata),
			v.WatchedEpisodes, v.UnwatchedEpisodes, v.EpisodeCount, nullString(v.Placeholder))
		return err
	case *domain.Episode:
		_, err := t.exec(`INSERT OR REPLACE INTO episodes (`+episodeColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, episodeArgs(v)...)
		return err
	case *domain.Movie:
		_, err := t.exec(`INSERT OR REPLACE INTO movies (`+movieColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.TraktID, nullString(v.IMDBID), nullInt(v.TMDBID), v.Title, v.Year,
			boolInt(v.Watched), fmtTime(v.LastWatchedAt), boolInt(v.Collected), fmtTime(v.CollectedAt),
			nullBlob(v.Metadata), nullString(v.Placeholder))
		return err
	case *domain.WatchlistItem:
		_, err := t.exec(`INSERT OR REPLACE INTO watchlist (trakt_id, mediatype, imdb_id, title, year, listed_at, placeholder)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			v.TraktID, string(v.Type), nullString(v.IMDBID), v.Title, v.Year, fmtTime(v.ListedAt), nullString(v.Placeholder))
		return err
	case *domain.Bookmark:
		_, err := t.exec(`INSERT OR REPLACE INTO bookmarks (trakt_id, mediatype, playback_id, resume_seconds, percent, paused_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			v.TraktID, string(v.Type), nullInt(v.PlaybackID), v.ResumeSeconds, v.Percent, fmtTime(v.PausedAt))
		return err
	case *domain.HiddenItem:
		return t.UpsertHidden(v)
	default:
		return fmt.Errorf("restore: unsupported entity %T", e)
	}
}
