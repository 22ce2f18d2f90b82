package syncer

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

var (
	testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1      = testNow.Add(-48 * time.Hour)
	t2      = testNow.Add(-time.Hour)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type progressRecorder struct {
	mu     sync.Mutex
	events []domain.SyncProgress
}

func (p *progressRecorder) OnProgress(e domain.SyncProgress) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

type fixture struct {
	store      *replica.Store
	remote     *testinfra.FakeTrakt
	clock      *fakeClock
	suppressor *worker.Suppressor
	progress   *progressRecorder
	c          *Coordinator
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := replica.Open(t.TempDir(), replica.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:      store,
		remote:     testinfra.NewFakeTrakt(),
		clock:      &fakeClock{now: testNow},
		suppressor: &worker.Suppressor{},
		progress:   &progressRecorder{},
	}
	f.c = f.coordinator()
	return f
}

func (f *fixture) coordinator() *Coordinator {
	return New(f.store, f.remote, Options{
		MinInterval: 5 * time.Minute,
		Backoff:     worker.Backoff{Attempts: 0},
		Suppressor:  f.suppressor,
		Observer:    f.progress,
		Now:         f.clock.Now,
	})
}

func (f *fixture) setLocalClock(t *testing.T, clock domain.ActivityClock) {
	t.Helper()
	require.NoError(t, f.store.Update(context.Background(), func(tx *replica.Tx) error {
		for c, at := range clock {
			if err := tx.AdvanceClock(c, at); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (f *fixture) localClock(t *testing.T) domain.ActivityClock {
	t.Helper()
	clock, err := f.store.Clocks(context.Background())
	require.NoError(t, err)
	return clock
}

func seedRemoteShow(remote *testinfra.FakeTrakt) {
	show := &domain.Show{TraktID: 1, Title: "Severance", AiredEpisodes: 3}
	remote.Episodes[1] = []*domain.Episode{
		{ShowID: 1, Season: 0, Number: 1, TraktID: 100, AirDate: testNow.AddDate(-1, 0, 0)},
		{ShowID: 1, Season: 1, Number: 1, TraktID: 111, Title: "Good News About Hell", AirDate: testNow.AddDate(0, -3, 0)},
		{ShowID: 1, Season: 1, Number: 2, TraktID: 112, AirDate: testNow.AddDate(0, -2, 0)},
		{ShowID: 1, Season: 1, Number: 3, TraktID: 113, AirDate: testNow.AddDate(0, -1, 0)},
	}
	remote.WatchedShows = []domain.ShowProgress{{
		Show:          show,
		LastWatchedAt: t2,
		Episodes: []*domain.Episode{
			{ShowID: 1, Season: 1, Number: 1, LastWatchedAt: t1},
			{ShowID: 1, Season: 1, Number: 2, LastWatchedAt: t2},
		},
	}}
}

func TestRun_PullsChangedCategoryAndAdvancesClock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.setLocalClock(t, domain.ActivityClock{domain.CategoryMoviesWatched: t1})
	f.remote.Clock[domain.CategoryMoviesWatched] = t2
	f.remote.WatchedMovies = []*domain.Movie{
		{TraktID: 10, IMDBID: "tt0111161", Title: "The Shawshank Redemption", Year: 1994, Watched: true, LastWatchedAt: t2},
	}

	report, err := f.c.Run(ctx, false)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, []domain.Category{domain.CategoryMoviesWatched}, report.Advanced)

	e, err := f.store.Get(ctx, domain.MovieKey(10))
	require.NoError(t, err)
	m := e.(*domain.Movie)
	assert.True(t, m.Watched)
	assert.Equal(t, "The Shawshank Redemption", m.Title)

	assert.Equal(t, t2, f.localClock(t)[domain.CategoryMoviesWatched])
	assert.Equal(t, domain.SyncIdle, f.c.State())
}

func TestRun_UnchangedCategoriesMakeNoCalls(t *testing.T) {
	f := setup(t)

	f.setLocalClock(t, domain.ActivityClock{domain.CategoryMoviesWatched: t2})
	f.remote.Clock[domain.CategoryMoviesWatched] = t2

	report, err := f.c.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, report.Tasks)
	assert.Equal(t, 1, f.remote.Calls("GetLastActivities"))
	assert.Equal(t, 1, f.remote.TotalCalls())
}

func TestRun_SubSecondClockIsPulledOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	remoteAt := time.Date(2026, 3, 1, 11, 0, 0, 305_000_000, time.UTC)
	f.remote.Clock[domain.CategoryMoviesWatched] = remoteAt
	f.remote.WatchedMovies = []*domain.Movie{{TraktID: 10, Title: "Heat", Watched: true, LastWatchedAt: remoteAt}}

	_, err := f.c.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, remoteAt, f.localClock(t)[domain.CategoryMoviesWatched])

	report, err := f.c.Run(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, report.Tasks)
	assert.Equal(t, 1, f.remote.Calls("GetWatchedMovies"))
}

func TestRun_ThrottledWithinMinInterval(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.c.Run(ctx, false)
	require.NoError(t, err)

	f.clock.Advance(4 * time.Minute)
	report, err := f.c.Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 1, f.remote.Calls("GetLastActivities"))

	// The throttle survives a new coordinator on the same replica
	report, err = f.coordinator().Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	// Force bypasses it
	report, err = f.c.Run(ctx, true)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 2, f.remote.Calls("GetLastActivities"))

	f.clock.Advance(6 * time.Minute)
	report, err = f.c.Run(ctx, false)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
}

func TestRun_FailedCategoryIsIsolated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.remote.Clock[domain.CategoryMoviesWatchlist] = t2
	f.remote.Clock[domain.CategoryShowsWatchlist] = t2
	f.remote.Clock[domain.CategoryMoviesCollected] = t2
	f.remote.CollectedMovies = []*domain.Movie{{TraktID: 20, Title: "Heat", Collected: true, CollectedAt: t1}}
	f.remote.Fail("GetWatchlist", &domain.RemoteError{Kind: domain.KindRemoteRejected, Op: "watchlist", Status: 403})

	report, err := f.c.Run(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Tasks, 3)
	assert.Len(t, report.Failed(), 2)
	assert.Equal(t, []domain.Category{domain.CategoryMoviesCollected}, report.Advanced)

	local := f.localClock(t)
	assert.Equal(t, t2, local[domain.CategoryMoviesCollected])
	assert.True(t, local[domain.CategoryMoviesWatchlist].IsZero())
	assert.True(t, local[domain.CategoryShowsWatchlist].IsZero())

	// The next cycle retries only what failed
	f.remote.Fail("GetWatchlist", nil)
	report, err = f.c.Run(ctx, true)
	require.NoError(t, err)
	assert.Len(t, report.Tasks, 2)
	assert.Equal(t, 1, f.remote.Calls("GetCollectedMovies"))
}

func TestRun_FirstEpisodeSyncPullsFullEpisodeList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	seedRemoteShow(f.remote)
	f.remote.Clock[domain.CategoryEpisodesWatched] = t2

	_, err := f.c.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.Calls("GetShowEpisodes"))

	e, err := f.store.Get(ctx, domain.ShowKey(1))
	require.NoError(t, err)
	show := e.(*domain.Show)
	assert.Equal(t, 2, show.WatchedEpisodes)
	assert.Equal(t, 1, show.UnwatchedEpisodes)
	assert.Equal(t, 3, show.EpisodeCount)

	next, err := f.store.NextUnwatched(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "S01E03", next.Code())

	// Known episodes are not pulled again
	f.remote.Clock[domain.CategoryEpisodesWatched] = testNow
	_, err = f.c.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.Calls("GetShowEpisodes"))
}

func TestRun_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	seedRemoteShow(f.remote)
	f.remote.WatchedMovies = []*domain.Movie{{TraktID: 10, Title: "Heat", Watched: true, LastWatchedAt: t1}}
	f.remote.Watchlist[domain.MediaTypeMovie] = []*domain.WatchlistItem{{Type: domain.MediaTypeMovie, TraktID: 30, Title: "Alien", ListedAt: t1}}
	f.remote.Playback = []*domain.Bookmark{{PlaybackID: 5, TraktID: 113, Type: domain.MediaTypeEpisode, Percent: 40, PausedAt: t1}}
	f.remote.Hidden[domain.SectionCalendar] = []*domain.HiddenItem{{TraktID: 99, Type: domain.MediaTypeShow}}
	for _, c := range domain.Categories {
		f.remote.Clock[c] = t2
	}

	dump := func() map[domain.EntityKind][]domain.Entity {
		out := make(map[domain.EntityKind][]domain.Entity)
		for _, kind := range []domain.EntityKind{domain.EntityShow, domain.EntityEpisode, domain.EntityMovie,
			domain.EntityWatchlist, domain.EntityBookmark, domain.EntityHidden} {
			items, err := f.store.GetAll(ctx, kind, domain.Filter{})
			require.NoError(t, err)
			out[kind] = items
		}
		return out
	}

	_, err := f.c.Run(ctx, false)
	require.NoError(t, err)
	first := dump()

	for _, c := range domain.Categories {
		f.remote.Clock[c] = testNow
	}
	report, err := f.c.Run(ctx, true)
	require.NoError(t, err)
	assert.Len(t, report.Advanced, len(domain.Categories))
	assert.Equal(t, first, dump())
}

func TestRun_SuppressionInterruptsCycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.remote.Clock[domain.CategoryMoviesWatched] = t2
	release := f.suppressor.Suppress()

	report, err := f.c.Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Empty(t, report.Tasks)
	assert.True(t, f.localClock(t)[domain.CategoryMoviesWatched].IsZero())
	assert.Equal(t, 0, f.remote.Calls("GetWatchedMovies"))

	release()
	report, err = f.c.Run(ctx, true)
	require.NoError(t, err)
	assert.False(t, report.Interrupted)
	assert.Equal(t, t2, f.localClock(t)[domain.CategoryMoviesWatched])
}

func TestRun_ClockFetchFailure(t *testing.T) {
	f := setup(t)
	f.remote.Fail("GetLastActivities", &domain.RemoteError{Kind: domain.KindAuthExpired, Op: "last_activities", Status: 401})

	_, err := f.c.Run(context.Background(), false)
	assert.Equal(t, domain.KindAuthExpired, domain.KindOf(err))

	// A failed fetch does not start the throttle window
	f.remote.Fail("GetLastActivities", nil)
	report, err := f.c.Run(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
}

func TestRun_ReportsProgress(t *testing.T) {
	f := setup(t)
	f.remote.Clock[domain.CategoryMoviesWatched] = t2
	f.remote.Clock[domain.CategoryHidden] = t2

	_, err := f.c.Run(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, f.progress.events, 3)
	assert.Equal(t, domain.CategoryMoviesWatched, f.progress.events[0].Category)
	assert.Equal(t, domain.CategoryHidden, f.progress.events[1].Category)
	assert.True(t, f.progress.events[2].Done)
}

func TestShouldSync(t *testing.T) {
	local := domain.ActivityClock{domain.CategoryMoviesWatched: t1}
	assert.True(t, ShouldSync(domain.CategoryMoviesWatched, local, domain.ActivityClock{domain.CategoryMoviesWatched: t2}))
	assert.False(t, ShouldSync(domain.CategoryMoviesWatched, local, domain.ActivityClock{domain.CategoryMoviesWatched: t1}))
	assert.False(t, ShouldSync(domain.CategoryMoviesWatched, local, domain.ActivityClock{}))
	assert.True(t, ShouldSync(domain.CategoryPlayback, local, domain.ActivityClock{domain.CategoryPlayback: t1}))
}

func TestTicker_SubmitsOnStartup(t *testing.T) {
	f := setup(t)
	pool := worker.NewPool(1, 4, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Serve(ctx)

	ticker := NewTicker(f.c, pool, time.Hour, true, nil)
	go ticker.Serve(ctx)

	require.Eventually(t, func() bool {
		return f.remote.Calls("GetLastActivities") == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-pool.Done()
}
