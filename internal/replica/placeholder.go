package replica

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/mmcdole/kinosync/internal/domain"
)

// NewPlaceholder returns a local stand-in Trakt ID and the UUID it was
// derived from. Placeholder IDs are always negative so they never collide
// with canonical IDs.
func NewPlaceholder() (int64, string) {
	u := uuid.New()
	id := -int64(crc32.ChecksumIEEE(u[:]))
	if id == 0 {
		id = -1
	}
	return id, u.String()
}

// ReconcileID rewrites a placeholder row to its canonical Trakt ID in
// place. When a canonical row already exists the placeholder row is
// dropped instead, with any episodes moved under the canonical show.
func (t *Tx) ReconcileID(key domain.Key, canonical int64) error {
	if key.TraktID >= 0 || canonical <= 0 {
		return nil
	}
	switch key.Kind {
	case domain.EntityMovie:
		return t.reconcile("movies", "trakt_id = ?", []any{key.TraktID}, canonical, func() (bool, error) {
			_, err := t.GetMovie(canonical)
			return exists(err)
		})
	case domain.EntityWatchlist:
		return t.reconcile("watchlist", "trakt_id = ? AND mediatype = ?",
			[]any{key.TraktID, string(key.Type)}, canonical, func() (bool, error) {
				_, err := t.GetWatchlistItem(key.Type, canonical)
				return exists(err)
			})
	case domain.EntityShow:
		if _, err := t.exec(`UPDATE OR IGNORE episodes SET show_trakt_id = ? WHERE show_trakt_id = ?`,
			canonical, key.TraktID); err != nil {
			return fmt.Errorf("reconcile episodes of %s: %w", key, err)
		}
		if _, err := t.exec(`DELETE FROM episodes WHERE show_trakt_id = ?`, key.TraktID); err != nil {
			return fmt.Errorf("reconcile episodes of %s: %w", key, err)
		}
		for _, table := range []string{"hidden", "bookmarks"} {
			if _, err := t.exec(`UPDATE OR IGNORE `+table+` SET trakt_id = ? WHERE trakt_id = ? AND mediatype = 'show'`,
				canonical, key.TraktID); err != nil {
				return fmt.Errorf("reconcile %s of %s: %w", table, key, err)
			}
		}
		return t.reconcile("shows", "trakt_id = ?", []any{key.TraktID}, canonical, func() (bool, error) {
			return t.ShowExists(canonical)
		})
	default:
		return fmt.Errorf("reconcile: unsupported kind %q", key.Kind)
	}
}

func (t *Tx) reconcile(table, where string, args []any, canonical int64, canonicalExists func() (bool, error)) error {
	ok, err := canonicalExists()
	if err != nil {
		return err
	}
	if ok {
		if _, err := t.exec(`DELETE FROM `+table+` WHERE `+where, args...); err != nil {
			return fmt.Errorf("drop placeholder in %s: %w", table, err)
		}
		return nil
	}
	if _, err := t.exec(`UPDATE `+table+` SET trakt_id = ?, placeholder = NULL WHERE `+where,
		append([]any{canonical}, args...)...); err != nil {
		return fmt.Errorf("reconcile placeholder in %s: %w", table, err)
	}
	return nil
}

func exists(err error) (bool, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
