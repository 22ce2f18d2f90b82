// Package testinfra holds in-memory fakes shared by package tests.
package testinfra

import (
	"context"
	"sync"

	"github.com/mmcdole/kinosync/internal/domain"
)

var (
	_ domain.TraktRepository = (*FakeTrakt)(nil)
	_ domain.TraktWriter     = (*FakeTrakt)(nil)
)

// Mutation records one write call received by FakeTrakt.
type Mutation struct {
	Op    string
	Items domain.SyncItems
}

// FakeTrakt is an in-memory account service. Fields may be set directly
// before use; calls are counted per method name.
type FakeTrakt struct {
	mu sync.Mutex

	Clock           domain.ActivityClock
	WatchedMovies   []*domain.Movie
	WatchedShows    []domain.ShowProgress
	CollectedMovies []*domain.Movie
	CollectedShows  []domain.ShowProgress
	Watchlist       map[domain.MediaType][]*domain.WatchlistItem
	Playback        []*domain.Bookmark
	Hidden          map[string][]*domain.HiddenItem
	Episodes        map[int64][]*domain.Episode
	Lookups         map[string]*domain.LookupResult

	// Gate, when set, holds every write call until it is closed
	Gate chan struct{}

	errs      map[string]error
	calls     map[string]int
	mutations []Mutation
	removed   []int64
}

// NewFakeTrakt returns an empty fake account.
func NewFakeTrakt() *FakeTrakt {
	return &FakeTrakt{
		Clock:     make(domain.ActivityClock),
		Watchlist: make(map[domain.MediaType][]*domain.WatchlistItem),
		Hidden:    make(map[string][]*domain.HiddenItem),
		Episodes:  make(map[int64][]*domain.Episode),
		Lookups:   make(map[string]*domain.LookupResult),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (f *FakeTrakt) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Calls returns how many times op was called.
func (f *FakeTrakt) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of calls across all methods.
func (f *FakeTrakt) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Mutations returns the write calls received so far.
func (f *FakeTrakt) Mutations() []Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Mutation(nil), f.mutations...)
}

// RemovedPlayback returns the playback IDs deleted so far.
func (f *FakeTrakt) RemovedPlayback() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.removed...)
}

func (f *FakeTrakt) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.errs[op]
}

func (f *FakeTrakt) GetLastActivities(ctx context.Context) (domain.ActivityClock, error) {
	if err := f.enter("GetLastActivities"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(domain.ActivityClock, len(f.Clock))
	for k, v := range f.Clock {
		out[k] = v
	}
	return out, nil
}

func (f *FakeTrakt) GetWatchedMovies(ctx context.Context) ([]*domain.Movie, error) {
	if err := f.enter("GetWatchedMovies"); err != nil {
		return nil, err
	}
	return f.WatchedMovies, nil
}

func (f *FakeTrakt) GetWatchedShows(ctx context.Context) ([]domain.ShowProgress, error) {
	if err := f.enter("GetWatchedShows"); err != nil {
		return nil, err
	}
	return f.WatchedShows, nil
}

func (f *FakeTrakt) GetCollectedMovies(ctx context.Context) ([]*domain.Movie, error) {
	if err := f.enter("GetCollectedMovies"); err != nil {
		return nil, err
	}
	return f.CollectedMovies, nil
}

func (f *FakeTrakt) GetCollectedShows(ctx context.Context) ([]domain.ShowProgress, error) {
	if err := f.enter("GetCollectedShows"); err != nil {
		return nil, err
	}
	return f.CollectedShows, nil
}

func (f *FakeTrakt) GetWatchlist(ctx context.Context, t domain.MediaType) ([]*domain.WatchlistItem, error) {
	if err := f.enter("GetWatchlist"); err != nil {
		return nil, err
	}
	return f.Watchlist[t], nil
}

func (f *FakeTrakt) GetPlayback(ctx context.Context) ([]*domain.Bookmark, error) {
	if err := f.enter("GetPlayback"); err != nil {
		return nil, err
	}
	return f.Playback, nil
}

func (f *FakeTrakt) GetHidden(ctx context.Context, section string) ([]*domain.HiddenItem, error) {
	if err := f.enter("GetHidden"); err != nil {
		return nil, err
	}
	return f.Hidden[section], nil
}

func (f *FakeTrakt) GetShowEpisodes(ctx context.Context, showID int64) ([]*domain.Episode, error) {
	if err := f.enter("GetShowEpisodes"); err != nil {
		return nil, err
	}
	return f.Episodes[showID], nil
}

func (f *FakeTrakt) LookupIMDB(ctx context.Context, t domain.MediaType, imdbID string) (*domain.LookupResult, error) {
	if err := f.enter("LookupIMDB"); err != nil {
		return nil, err
	}
	if r, ok := f.Lookups[imdbID]; ok {
		return r, nil
	}
	return nil, &domain.RemoteError{Kind: domain.KindRemoteRejected, Op: "search " + imdbID, Status: 404, Err: domain.ErrNotFound}
}

func (f *FakeTrakt) write(ctx context.Context, op string, items domain.SyncItems) (domain.SyncResponse, error) {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return domain.SyncResponse{}, ctx.Err()
		}
	}
	if err := f.enter(op); err != nil {
		return domain.SyncResponse{}, err
	}
	f.mu.Lock()
	f.mutations = append(f.mutations, Mutation{Op: op, Items: items})
	f.mu.Unlock()
	return domain.SyncResponse{Added: len(items.Movies) + len(items.Shows)}, nil
}

func (f *FakeTrakt) AddToHistory(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return f.write(ctx, "AddToHistory", items)
}

func (f *FakeTrakt) RemoveFromHistory(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return f.write(ctx, "RemoveFromHistory", items)
}

func (f *FakeTrakt) AddToWatchlist(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return f.write(ctx, "AddToWatchlist", items)
}

func (f *FakeTrakt) RemoveFromWatchlist(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return f.write(ctx, "RemoveFromWatchlist", items)
}

func (f *FakeTrakt) HideFromProgress(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return f.write(ctx, "HideFromProgress", items)
}

func (f *FakeTrakt) UnhideFromProgress(ctx context.Context, items domain.SyncItems) (domain.SyncResponse, error) {
	return f.write(ctx, "UnhideFromProgress", items)
}

func (f *FakeTrakt) RemovePlayback(ctx context.Context, playbackID int64) error {
	if _, err := f.write(ctx, "RemovePlayback", domain.SyncItems{}); err != nil {
		return err
	}
	f.mu.Lock()
	f.removed = append(f.removed, playbackID)
	f.mu.Unlock()
	return nil
}
