package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
)

// StateLastClockFetch is the sync_state key holding when the remote
// activity clock was last fetched.
const StateLastClockFetch = "last_clock_fetch"

// Clocks returns the local activity clock of every category seen so far.
func (t *Tx) Clocks() (domain.ActivityClock, error) {
	rows, err := t.query(`SELECT category, updated_at FROM activities`)
	if err != nil {
		return nil, fmt.Errorf("read activity clocks: %w", err)
	}
	defer rows.Close()

	clock := make(domain.ActivityClock)
	for rows.Next() {
		var (
			category string
			at       sql.NullString
		)
		if err := rows.Scan(&category, &at); err != nil {
			return nil, fmt.Errorf("scan activity clock: %w", err)
		}
		clock[domain.Category(category)] = parseTime(at)
	}
	return clock, rows.Err()
}

// AdvanceClock moves a category clock forward to at. Older values are
// ignored so a clock never moves backward.
func (t *Tx) AdvanceClock(category domain.Category, at time.Time) error {
	if at.IsZero() {
		return nil
	}
	_, err := t.exec(`
INSERT INTO activities (category, updated_at) VALUES (?, ?)
ON CONFLICT(category) DO UPDATE SET updated_at = excluded.updated_at
WHERE excluded.updated_at > activities.updated_at`,
		string(category), fmtTime(at),
	)
	if err != nil {
		return fmt.Errorf("advance clock %s: %w", category, err)
	}
	return nil
}

// State reads a sync_state value.
func (t *Tx) State(key string) (string, bool, error) {
	var value string
	err := t.queryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read sync state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState writes a sync_state value.
func (t *Tx) SetState(key, value string) error {
	_, err := t.exec(`
INSERT INTO sync_state (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write sync state %s: %w", key, err)
	}
	return nil
}

// StateTime reads a timestamp stored in sync_state.
func (t *Tx) StateTime(key string) (time.Time, error) {
	v, ok, err := t.State(key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return parseTime(sql.NullString{String: v, Valid: true}), nil
}

// SetStateTime stores a timestamp in sync_state.
func (t *Tx) SetStateTime(key string, at time.Time) error {
	return t.SetState(key, at.UTC().Format(timeLayout))
}

// Clocks returns the local activity clocks.
func (s *Store) Clocks(ctx context.Context) (domain.ActivityClock, error) {
	var clock domain.ActivityClock
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		clock, err = tx.Clocks()
		return err
	})
	return clock, err
}

// Reset clears every replica table and every clock.
func (s *Store) Reset(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, table := range []string{"episodes", "shows", "movies", "watchlist", "bookmarks", "hidden", "activities", "sync_state"} {
			if _, err := tx.exec(`DELETE FROM ` + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}
