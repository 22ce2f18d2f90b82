package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/kinosync/internal/adapter"
	"github.com/mmcdole/kinosync/internal/adapter/source/addon"
	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/testinfra"
	"github.com/mmcdole/kinosync/internal/writes"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// addonServer answers every add-on path and remembers what was asked.
type addonServer struct {
	*httptest.Server
	mu    sync.Mutex
	paths map[string]int
}

func newAddonServer(t *testing.T) *addonServer {
	t.Helper()
	s := &addonServer{paths: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths[r.URL.Path]++
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/manifest.json":
			w.Write([]byte(`{"id":"org.example","version":"1.0.0"}`))
		case r.URL.Path == "/catalog/movie/top.json":
			w.Write([]byte(`{"metas":[{"id":"tt0078748","type":"movie","name":"Alien"},{"id":"tt0090605","type":"movie","name":"Aliens"}]}`))
		default:
			w.Write([]byte(`{"meta":{"year":1979}}`))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *addonServer) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[path]
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []domain.StateChange
}

func (r *changeRecorder) OnStateChanged(c domain.StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.changes {
		out = append(out, c.Outcome.Op)
	}
	return out
}

type fixture struct {
	engine  *Engine
	remote  *testinfra.FakeTrakt
	addon   *addonServer
	changes *changeRecorder
}

func setup(t *testing.T) *fixture {
	t.Helper()

	srv := newAddonServer(t)
	cfg := adapter.DefaultConfig()
	cfg.Cache.Dir = t.TempDir()
	cfg.Replica.Dir = t.TempDir()
	cfg.Addon.URL = srv.URL
	cfg.Sync.MinInterval = 0
	cfg.Sync.OnStartup = false
	cfg.Workers.MaxRetries = 0
	cfg.Prefetch.CatalogDepth = 1

	remote := testinfra.NewFakeTrakt()
	e, err := New(Options{
		Config: cfg,
		Trakt:  remote,
		Addon:  addon.NewClient(srv.URL, time.Second, nil),
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool := e.Services()[0]
	done := make(chan struct{})
	go func() {
		pool.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		e.Close()
	})

	f := &fixture{engine: e, remote: remote, addon: srv, changes: &changeRecorder{}}
	e.Subscribe(f.changes)
	return f
}

func seedRemote(remote *testinfra.FakeTrakt) {
	remote.Clock[domain.CategoryEpisodesWatched] = testNow.Add(-time.Hour)
	remote.Episodes[1] = []*domain.Episode{
		{ShowID: 1, Season: 1, Number: 1, TraktID: 111, AirDate: testNow.AddDate(0, -3, 0)},
		{ShowID: 1, Season: 1, Number: 2, TraktID: 112, AirDate: testNow.AddDate(0, -2, 0)},
	}
	remote.WatchedShows = []domain.ShowProgress{{
		Show:          &domain.Show{TraktID: 1, IMDBID: "tt11280740", Title: "Severance", AiredEpisodes: 2},
		LastWatchedAt: testNow.Add(-time.Hour),
		Episodes: []*domain.Episode{
			{ShowID: 1, Season: 1, Number: 1, LastWatchedAt: testNow.Add(-time.Hour)},
		},
	}}
}

func TestNew_RequiresAccount(t *testing.T) {
	_, err := New(Options{Config: adapter.DefaultConfig()})
	assert.Error(t, err)

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestEngine_SyncNowFeedsNextUp(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedRemote(f.remote)

	report, err := f.engine.SyncNow(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []domain.Category{domain.CategoryEpisodesWatched}, report.Advanced)

	next, err := f.engine.GetNextUp(ctx, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "S01E02", next[0].Episode.Code())

	ep, err := f.engine.GetNextUnwatched(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, ep.Number)

	assert.Contains(t, f.changes.ops(), OpSync)

	// Next-up shows are warmed after a productive sync
	assert.Eventually(t, func() bool {
		return f.addon.hits("/meta/series/tt11280740.json") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_MarkWatchedSignalsAndWarmsNextEpisode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedRemote(f.remote)
	_, err := f.engine.SyncNow(ctx, true)
	require.NoError(t, err)

	p, err := f.engine.MarkWatched(ctx, domain.Target{Type: domain.MediaTypeEpisode, TraktID: 1, Season: 1, Number: 2}, domain.ScopeItem)
	require.NoError(t, err)

	out, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MutationConfirmed, out.State)
	assert.Equal(t, 1, f.remote.Calls("AddToHistory"))

	assert.Eventually(t, func() bool {
		for _, op := range f.changes.ops() {
			if op == writes.OpMarkWatched {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	// The show is fully watched now, so there is nothing left to warm
	_, err = f.engine.GetNextUnwatched(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_WatchlistRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.remote.Lookups["tt0078748"] = &domain.LookupResult{Type: domain.MediaTypeMovie, IDs: domain.IDs{Trakt: 30, IMDB: "tt0078748"}, Title: "Alien"}

	p, err := f.engine.AddToWatchlist(ctx, domain.Target{Type: domain.MediaTypeMovie, IMDBID: "tt0078748"})
	require.NoError(t, err)
	out, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), out.TraktID)

	list, err := f.engine.GetWatchlist(ctx, domain.MediaTypeMovie)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(30), list[0].TraktID)

	p, err = f.engine.RemoveFromWatchlist(ctx, domain.Target{Type: domain.MediaTypeMovie, TraktID: 30})
	require.NoError(t, err)
	_, err = p.Wait(ctx)
	require.NoError(t, err)

	list, err = f.engine.GetWatchlist(ctx, domain.MediaTypeMovie)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEngine_CatalogWarmsFirstEntries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	catalog, err := f.engine.GetCatalog(ctx, "movie", "top", nil)
	require.NoError(t, err)
	require.Len(t, catalog.Items, 2)

	assert.Eventually(t, func() bool {
		return f.addon.hits("/meta/movie/tt0078748.json") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.addon.hits("/meta/movie/tt0090605.json"))
}

func TestEngine_ClearCachesForcesRefetch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.engine.GetManifest(ctx)
	require.NoError(t, err)
	_, err = f.engine.GetManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.addon.hits("/manifest.json"))

	require.NoError(t, f.engine.ClearCaches())

	res, err := f.engine.FetchResource(ctx, domain.ResourceManifest, "/manifest.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"org.example","version":"1.0.0"}`, string(res.Payload))
	assert.Equal(t, 2, f.addon.hits("/manifest.json"))
}

func TestEngine_SearchReleasesSuppression(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedRemote(f.remote)
	_, err := f.engine.SyncNow(ctx, true)
	require.NoError(t, err)

	results, err := f.engine.Search(ctx, "sever", nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Severance", results[0].Item.Title)
	assert.False(t, f.engine.suppressor.Suppressed())

	release := f.engine.Suppress()
	assert.True(t, f.engine.suppressor.Suppressed())
	release()
	assert.False(t, f.engine.suppressor.Suppressed())
}

func TestEngine_ResetReplica(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedRemote(f.remote)
	_, err := f.engine.SyncNow(ctx, true)
	require.NoError(t, err)

	status, err := f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Shows)

	require.NoError(t, f.engine.ResetReplica(ctx))

	status, err = f.engine.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Shows)
	assert.Empty(t, status.Clocks)

	// A reset replica pulls everything again
	report, err := f.engine.SyncNow(ctx, true)
	require.NoError(t, err)
	assert.Len(t, report.Advanced, 1)
}
