package writes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/replica"
	"github.com/mmcdole/kinosync/internal/testinfra"
	"github.com/mmcdole/kinosync/internal/worker"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return testNow.AddDate(0, 0, n)
}

type notifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *notifier) Notify(msg domain.Notification) {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type listener struct {
	mu      sync.Mutex
	changes []domain.StateChange
}

func (l *listener) OnStateChanged(c domain.StateChange) {
	l.mu.Lock()
	l.changes = append(l.changes, c)
	l.mu.Unlock()
}

func (l *listener) states() []domain.MutationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.MutationState
	for _, c := range l.changes {
		out = append(out, c.Outcome.State)
	}
	return out
}

type fixture struct {
	store    *replica.Store
	remote   *testinfra.FakeTrakt
	notifier *notifier
	listener *listener
	m        *Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := replica.Open(t.TempDir(), replica.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	pool := worker.NewPool(2, 16, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		<-pool.Done()
		store.Close()
	})

	f := &fixture{
		store:    store,
		remote:   testinfra.NewFakeTrakt(),
		notifier: &notifier{},
		listener: &listener{},
	}
	f.m = New(store, f.remote, pool, Options{
		WriteTimeout: 5 * time.Second,
		Notifier:     f.notifier,
		Now:          func() time.Time { return testNow },
	})
	f.m.Subscribe(f.listener)
	return f
}

func (f *fixture) seed(t *testing.T, entities ...domain.Entity) {
	t.Helper()
	ctx := context.Background()
	for _, e := range entities {
		require.NoError(t, f.store.Upsert(ctx, e))
	}
	require.NoError(t, f.store.Update(ctx, func(tx *replica.Tx) error {
		return tx.RecomputeShowStats()
	}))
}

// seedShow stores show 1 with three aired episodes in season 1 (the first
// watched) and one unaired episode in season 2.
func (f *fixture) seedShow(t *testing.T) {
	f.seed(t,
		&domain.Show{TraktID: 1, IMDBID: "tt11280740", Title: "Severance", AiredEpisodes: 3},
		&domain.Episode{ShowID: 1, Season: 1, Number: 1, TraktID: 111, AirDate: day(-90), Watched: true, LastWatchedAt: day(-30)},
		&domain.Episode{ShowID: 1, Season: 1, Number: 2, TraktID: 112, AirDate: day(-83)},
		&domain.Episode{ShowID: 1, Season: 1, Number: 3, TraktID: 113, AirDate: day(-76)},
		&domain.Episode{ShowID: 1, Season: 2, Number: 1, TraktID: 121, AirDate: day(30)},
	)
}

func (f *fixture) dump(t *testing.T) map[domain.EntityKind][]domain.Entity {
	t.Helper()
	out := make(map[domain.EntityKind][]domain.Entity)
	for _, kind := range []domain.EntityKind{domain.EntityShow, domain.EntityEpisode, domain.EntityMovie,
		domain.EntityWatchlist, domain.EntityBookmark, domain.EntityHidden} {
		items, err := f.store.GetAll(context.Background(), kind, domain.Filter{})
		require.NoError(t, err)
		out[kind] = items
	}
	return out
}

func (f *fixture) show(t *testing.T, id int64) *domain.Show {
	t.Helper()
	e, err := f.store.Get(context.Background(), domain.ShowKey(id))
	require.NoError(t, err)
	return e.(*domain.Show)
}

func (f *fixture) episode(t *testing.T, show int64, season, number int) *domain.Episode {
	t.Helper()
	e, err := f.store.Get(context.Background(), domain.EpisodeKey(show, season, number))
	require.NoError(t, err)
	return e.(*domain.Episode)
}

func wait(t *testing.T, p *Pending) domain.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := p.Wait(ctx)
	require.NoError(t, err)
	return out
}

func TestMarkWatched_MovieIsOptimistic(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, &domain.Movie{TraktID: 10, IMDBID: "tt0113277", Title: "Heat", Year: 1995})

	gate := make(chan struct{})
	f.remote.Gate = gate

	p, err := f.m.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeMovie, TraktID: 10}, domain.ScopeItem)
	require.NoError(t, err)

	// The replica reflects the change before the remote answers
	e, err := f.store.Get(ctx, domain.MovieKey(10))
	require.NoError(t, err)
	m := e.(*domain.Movie)
	assert.True(t, m.Watched)
	assert.Equal(t, testNow, m.LastWatchedAt)
	assert.Equal(t, "Heat", m.Title)

	select {
	case <-p.Done():
		t.Fatal("mutation settled before the remote answered")
	default:
	}

	close(gate)
	out := wait(t, p)
	assert.Equal(t, domain.MutationConfirmed, out.State)
	assert.Equal(t, int64(10), out.TraktID)
	assert.Equal(t, p.ID, out.ID)

	muts := f.remote.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "AddToHistory", muts[0].Op)
	require.Len(t, muts[0].Items.Movies, 1)
	assert.Equal(t, int64(10), muts[0].Items.Movies[0].IDs.Trakt)
	assert.Equal(t, testNow, muts[0].Items.Movies[0].WatchedAt)

	assert.Equal(t, []domain.MutationState{domain.MutationConfirmed}, f.listener.states())
	assert.Equal(t, 0, f.notifier.count())
}

func TestMarkWatched_RollbackRestoresExactSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedShow(t)
	before := f.dump(t)

	f.remote.Fail("AddToHistory", &domain.RemoteError{Kind: domain.KindTransientNetwork, Op: "sync/history"})

	p, err := f.m.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeShow, TraktID: 1}, domain.ScopeShow)
	require.NoError(t, err)

	out := wait(t, p)
	assert.Equal(t, domain.MutationRolledBack, out.State)
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(out.Err))

	assert.Equal(t, before, f.dump(t))
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, f.remote.Calls("AddToHistory"), "write path must not retry")
	assert.Equal(t, []domain.MutationState{domain.MutationRolledBack}, f.listener.states())
}

func TestMarkWatched_ShowScopeMarksAiredEpisodes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedShow(t)

	p, err := f.m.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeShow, TraktID: 1}, domain.ScopeShow)
	require.NoError(t, err)

	show := f.show(t, 1)
	assert.Equal(t, 3, show.WatchedEpisodes)
	assert.Equal(t, 0, show.UnwatchedEpisodes)
	assert.False(t, f.episode(t, 1, 2, 1).Watched)

	out := wait(t, p)
	assert.Equal(t, domain.MutationConfirmed, out.State)

	muts := f.remote.Mutations()
	require.Len(t, muts, 1)
	require.Len(t, muts[0].Items.Shows, 1)
	assert.Empty(t, muts[0].Items.Shows[0].Seasons)
}

func TestMarkWatched_SeasonScope(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedShow(t)

	p, err := f.m.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeShow, TraktID: 1, Season: 1}, domain.ScopeSeason)
	require.NoError(t, err)
	wait(t, p)

	for n := 1; n <= 3; n++ {
		assert.True(t, f.episode(t, 1, 1, n).Watched)
	}
	assert.Equal(t, testNow, f.episode(t, 1, 1, 2).LastWatchedAt)

	muts := f.remote.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, []domain.SyncSeason{{Number: 1}}, muts[0].Items.Shows[0].Seasons)
}

func TestMarkWatched_SeasonScopeWithNoEpisodes(t *testing.T) {
	f := setup(t)
	f.seedShow(t)

	p, err := f.m.MarkWatched(context.Background(), domain.Target{Type: domain.MediaTypeShow, TraktID: 1, Season: 5}, domain.ScopeSeason)
	require.NoError(t, err)
	assert.Equal(t, domain.MutationConfirmed, wait(t, p).State)
	assert.Equal(t, 1, f.show(t, 1).WatchedEpisodes)
}

func TestMarkWatched_UnknownShowPullsEpisodes(t *testing.T) {
	f := setup(t)
	f.remote.Episodes[7] = []*domain.Episode{
		{ShowID: 7, Season: 1, Number: 1, TraktID: 701, AirDate: day(-20)},
		{ShowID: 7, Season: 1, Number: 2, TraktID: 702, AirDate: day(-13)},
		{ShowID: 7, Season: 1, Number: 3, TraktID: 703, AirDate: day(1)},
	}

	p, err := f.m.MarkWatched(context.Background(), domain.Target{Type: domain.MediaTypeShow, TraktID: 7}, domain.ScopeShow)
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.Calls("GetShowEpisodes"))

	show := f.show(t, 7)
	assert.Equal(t, 2, show.WatchedEpisodes)
	assert.Equal(t, 2, show.EpisodeCount)
	assert.Equal(t, 0, show.UnwatchedEpisodes)
	assert.False(t, f.episode(t, 7, 1, 3).Watched)

	assert.Equal(t, domain.MutationConfirmed, wait(t, p).State)
}

func TestMarkWatched_UnknownShowOffline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.remote.Fail("GetShowEpisodes", &domain.RemoteError{Kind: domain.KindTransientNetwork, Op: "seasons"})

	p, err := f.m.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeShow, TraktID: 8}, domain.ScopeShow)
	require.NoError(t, err)

	show := f.show(t, 8)
	assert.Equal(t, 0, show.EpisodeCount)
	episodes, err := f.store.GetAll(ctx, domain.EntityEpisode, domain.Filter{ShowID: 8})
	require.NoError(t, err)
	assert.Empty(t, episodes)

	assert.Equal(t, domain.MutationConfirmed, wait(t, p).State)
}

func TestMarkUnwatched_Episode(t *testing.T) {
	f := setup(t)
	f.seedShow(t)

	target := domain.Target{Type: domain.MediaTypeEpisode, TraktID: 1, Season: 1, Number: 1}
	p, err := f.m.MarkUnwatched(context.Background(), target, domain.ScopeItem)
	require.NoError(t, err)

	ep := f.episode(t, 1, 1, 1)
	assert.False(t, ep.Watched)
	assert.True(t, ep.LastWatchedAt.IsZero())
	assert.Equal(t, 0, f.show(t, 1).WatchedEpisodes)

	wait(t, p)
	muts := f.remote.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, "RemoveFromHistory", muts[0].Op)
	assert.Equal(t, []domain.SyncSeason{{Number: 1, Episodes: []int{1}}}, muts[0].Items.Shows[0].Seasons)
}

func TestMarkWatched_ClearsBookmark(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedShow(t)
	f.seed(t,
		&domain.Movie{TraktID: 10, Title: "Heat"},
		&domain.Bookmark{PlaybackID: 7, TraktID: 10, Type: domain.MediaTypeMovie, Percent: 55, PausedAt: day(-1)},
		&domain.Bookmark{PlaybackID: 8, TraktID: 112, Type: domain.MediaTypeEpisode, Percent: 20, PausedAt: day(-1)},
	)

	p, err := f.m.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeMovie, TraktID: 10}, domain.ScopeItem)
	require.NoError(t, err)
	wait(t, p)

	p, err = f.m.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeEpisode, TraktID: 1, Season: 1, Number: 2}, domain.ScopeItem)
	require.NoError(t, err)
	wait(t, p)

	assert.Equal(t, []int64{7, 8}, f.remote.RemovedPlayback())
	bookmarks, err := f.store.GetAll(ctx, domain.EntityBookmark, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, bookmarks)
}

func TestAddToWatchlist_ReconcilesPlaceholder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.remote.Lookups["tt0078748"] = &domain.LookupResult{Type: domain.MediaTypeMovie, IDs: domain.IDs{Trakt: 30, IMDB: "tt0078748"}}

	gate := make(chan struct{})
	f.remote.Gate = gate

	p, err := f.m.AddToWatchlist(ctx, domain.Target{Type: domain.MediaTypeMovie, IMDBID: "tt0078748"})
	require.NoError(t, err)

	items, err := f.store.Watchlist(ctx, domain.MediaTypeMovie)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Less(t, items[0].TraktID, int64(0))
	assert.NotEmpty(t, items[0].Placeholder)

	close(gate)
	out := wait(t, p)
	assert.Equal(t, domain.MutationConfirmed, out.State)
	assert.Equal(t, int64(30), out.TraktID)

	items, err = f.store.Watchlist(ctx, domain.MediaTypeMovie)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(30), items[0].TraktID)
	assert.Empty(t, items[0].Placeholder)
	assert.Equal(t, "tt0078748", items[0].IMDBID)

	muts := f.remote.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, domain.IDs{Trakt: 30, IMDB: "tt0078748"}, muts[0].Items.Movies[0].IDs)
}

func TestAddToWatchlist_UnresolvedPlaceholderRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p, err := f.m.AddToWatchlist(ctx, domain.Target{Type: domain.MediaTypeShow, IMDBID: "tt9999999"})
	require.NoError(t, err)

	out := wait(t, p)
	assert.Equal(t, domain.MutationRolledBack, out.State)
	assert.ErrorIs(t, out.Err, domain.ErrNotFound)
	assert.Equal(t, 0, f.remote.Calls("AddToWatchlist"))
	assert.Equal(t, 1, f.notifier.count())

	items, err := f.store.Watchlist(ctx, domain.MediaTypeShow)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRemoveFromWatchlist_KnownByIMDB(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, &domain.WatchlistItem{Type: domain.MediaTypeMovie, TraktID: 30, IMDBID: "tt0078748", Title: "Alien", ListedAt: day(-3)})

	p, err := f.m.RemoveFromWatchlist(ctx, domain.Target{Type: domain.MediaTypeMovie, IMDBID: "tt0078748"})
	require.NoError(t, err)

	items, err := f.store.Watchlist(ctx, domain.MediaTypeMovie)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.Equal(t, domain.MutationConfirmed, wait(t, p).State)
	assert.Equal(t, 0, f.remote.Calls("LookupIMDB"))
}

func TestHideFromProgress(t *testing.T) {
	isHidden := func(t *testing.T, f *fixture) bool {
		var hidden bool
		require.NoError(t, f.store.View(context.Background(), func(tx *replica.Tx) error {
			var err error
			hidden, err = tx.IsHidden(domain.MediaTypeShow, 1, domain.SectionProgressWatched)
			return err
		}))
		return hidden
	}

	t.Run("confirmed", func(t *testing.T) {
		f := setup(t)
		p, err := f.m.HideFromProgress(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, isHidden(t, f))
		assert.Equal(t, domain.MutationConfirmed, wait(t, p).State)
		assert.True(t, isHidden(t, f))
	})

	t.Run("rejected", func(t *testing.T) {
		f := setup(t)
		f.remote.Fail("HideFromProgress", &domain.RemoteError{Kind: domain.KindAuthExpired, Op: "hidden", Status: 401})
		p, err := f.m.HideFromProgress(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, domain.MutationRolledBack, wait(t, p).State)
		assert.False(t, isHidden(t, f))
	})

	t.Run("unhide", func(t *testing.T) {
		f := setup(t)
		f.seed(t, &domain.HiddenItem{TraktID: 1, Type: domain.MediaTypeShow, Section: domain.SectionProgressWatched})
		p, err := f.m.UnhideFromProgress(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, isHidden(t, f))
		wait(t, p)
		assert.Equal(t, "UnhideFromProgress", f.remote.Mutations()[0].Op)
	})
}

func TestRemovePlayback(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, &domain.Bookmark{PlaybackID: 9, TraktID: 113, Type: domain.MediaTypeEpisode, Percent: 40, PausedAt: day(-2)})

	p, err := f.m.RemovePlayback(ctx, 9)
	require.NoError(t, err)

	bookmarks, err := f.store.GetAll(ctx, domain.EntityBookmark, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, bookmarks)

	out := wait(t, p)
	assert.Equal(t, domain.MutationConfirmed, out.State)
	assert.Equal(t, []int64{9}, f.remote.RemovedPlayback())
}

func TestInvalidScope(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		target domain.Target
		scope  domain.Scope
	}{
		{"movie season", domain.Target{Type: domain.MediaTypeMovie, TraktID: 1}, domain.ScopeSeason},
		{"show item", domain.Target{Type: domain.MediaTypeShow, TraktID: 1}, domain.ScopeItem},
		{"episode without number", domain.Target{Type: domain.MediaTypeEpisode, TraktID: 1, Season: 1}, domain.ScopeItem},
		{"unknown type", domain.Target{Type: "person", TraktID: 1}, domain.ScopeItem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.MarkWatched(ctx, tt.target, tt.scope)
			assert.ErrorIs(t, err, domain.ErrInvalidScope)
		})
	}

	_, err := f.m.AddToWatchlist(ctx, domain.Target{Type: domain.MediaTypeEpisode, TraktID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
	assert.Equal(t, 0, f.remote.TotalCalls())
}

type rejectAll struct{}

func (rejectAll) Submit(string, worker.Task) error { return worker.ErrQueueFull }

func TestSubmitFailureUndoesLocalChange(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, &domain.Movie{TraktID: 10, Title: "Heat"})
	before := f.dump(t)

	m := New(f.store, f.remote, rejectAll{}, Options{Now: func() time.Time { return testNow }})
	_, err := m.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeMovie, TraktID: 10}, domain.ScopeItem)
	assert.ErrorIs(t, err, worker.ErrQueueFull)
	assert.Equal(t, before, f.dump(t))
	assert.Equal(t, 0, f.remote.TotalCalls())
}
