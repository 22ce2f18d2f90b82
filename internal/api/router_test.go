package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/kinosync/internal/adapter"
	"github.com/mmcdole/kinosync/internal/adapter/source/addon"
	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/service"
	"github.com/mmcdole/kinosync/internal/testinfra"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	server *httptest.Server
	remote *testinfra.FakeTrakt
	addon  *httptest.Server
}

func setup(t *testing.T) *fixture {
	t.Helper()

	addonSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.json":
			w.Write([]byte(`{"id":"org.example"}`))
		case "/catalog/movie/top.json":
			w.Write([]byte(`{"metas":[{"id":"tt1","type":"movie","name":"Alien"},{"id":"tt2","type":"movie","name":"Heat"}]}`))
		case "/meta/movie/tt1.json":
			w.Write([]byte(`{"meta":{"name":"Alien","year":1979}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(addonSrv.Close)

	cfg := adapter.DefaultConfig()
	cfg.Cache.Dir = t.TempDir()
	cfg.Replica.Dir = t.TempDir()
	cfg.Sync.MinInterval = 0
	cfg.Workers.MaxRetries = 0
	cfg.Prefetch.Enabled = false

	remote := testinfra.NewFakeTrakt()
	engine, err := service.New(service.Options{
		Config: cfg,
		Trakt:  remote,
		Addon:  addon.NewClient(addonSrv.URL, time.Second, nil),
		Now:    func() time.Time { return testNow },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool := engine.Services()[0]
	done := make(chan struct{})
	go func() {
		pool.Serve(ctx)
		close(done)
	}()

	srv := httptest.NewServer(NewHandler(engine, nil).Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		engine.Close()
	})
	return &fixture{server: srv, remote: remote, addon: addonSrv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
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
		Episodes:      []*domain.Episode{{ShowID: 1, Season: 1, Number: 1, LastWatchedAt: testNow.Add(-time.Hour)}},
	}}
}

func TestHealthAndMetrics(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncThenReadReplica(t *testing.T) {
	f := setup(t)
	seedRemote(f.remote)

	resp := f.do(t, http.MethodPost, "/api/v1/sync", syncRequest{Force: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decodeBody[syncView](t, resp)
	assert.Equal(t, []string{string(domain.CategoryEpisodesWatched)}, report.Advanced)

	resp = f.do(t, http.MethodGet, "/api/v1/next-up", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	next := decodeBody[[]nextUpView](t, resp)
	require.Len(t, next, 1)
	assert.Equal(t, "Severance", next[0].Show.Title)
	assert.Equal(t, "S01E02", next[0].Episode.Code)

	resp = f.do(t, http.MethodGet, "/api/v1/shows/1/next", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decodeBody[episodeView](t, resp).Number)

	resp = f.do(t, http.MethodGet, "/api/v1/shows/99/next", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/search?q=sever", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decodeBody[[]searchView](t, resp)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(1), results[0].TraktID)

	resp = f.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeBody[statusView](t, resp)
	assert.Equal(t, 1, st.Shows)
	assert.Equal(t, 2, st.Episodes)
	assert.Contains(t, st.Clocks, string(domain.CategoryEpisodesWatched))
}

func TestMarkWatched(t *testing.T) {
	f := setup(t)

	t.Run("accepted without waiting", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/watched", targetRequest{Type: domain.MediaTypeMovie, TraktID: 7})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		view := decodeBody[pendingView](t, resp)
		assert.Equal(t, domain.MutationPending, view.State)
		assert.NotEmpty(t, view.ID)
	})

	t.Run("waits for confirmation", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/api/v1/watched", targetRequest{Type: domain.MediaTypeMovie, TraktID: 8, Wait: true})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		view := decodeBody[pendingView](t, resp)
		assert.Equal(t, domain.MutationConfirmed, view.State)
	})

	t.Run("rolled back", func(t *testing.T) {
		f.remote.Fail("AddToHistory", &domain.RemoteError{Kind: domain.KindRemoteRejected, Status: 422})
		defer f.remote.Fail("AddToHistory", nil)

		resp := f.do(t, http.MethodPost, "/api/v1/watched", targetRequest{Type: domain.MediaTypeMovie, TraktID: 9, Wait: true})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		view := decodeBody[pendingView](t, resp)
		assert.Equal(t, domain.MutationRolledBack, view.State)
		assert.NotEmpty(t, view.Error)
	})
}

func TestMutationValidation(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing type", targetRequest{TraktID: 1}, http.StatusBadRequest},
		{"unknown type", map[string]any{"type": "album", "trakt_id": 1}, http.StatusBadRequest},
		{"no identifier", targetRequest{Type: domain.MediaTypeMovie}, http.StatusBadRequest},
		{"bad imdb id", targetRequest{Type: domain.MediaTypeMovie, IMDBID: "12345"}, http.StatusBadRequest},
		{"bad scope", map[string]any{"type": "movie", "trakt_id": 1, "scope": "forever"}, http.StatusBadRequest},
		{"scope does not fit target", targetRequest{Type: domain.MediaTypeMovie, TraktID: 1, Scope: domain.ScopeSeason}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/v1/watched", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp := f.do(t, http.MethodPost, "/api/v1/watched", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWatchlistAndHidden(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodPost, "/api/v1/watchlist", targetRequest{Type: domain.MediaTypeShow, TraktID: 5, Wait: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/watchlist?type=show", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decodeBody[[]watchlistView](t, resp)
	require.Len(t, items, 1)
	assert.Equal(t, int64(5), items[0].TraktID)

	resp = f.do(t, http.MethodGet, "/api/v1/watchlist?type=episode", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/v1/hidden/5?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.MutationConfirmed, decodeBody[pendingView](t, resp).State)
	assert.Equal(t, 1, f.remote.Calls("HideFromProgress"))

	resp = f.do(t, http.MethodDelete, "/api/v1/hidden/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/playback/0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/playback/404?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int64{404}, f.remote.RemovedPlayback())
}

func TestAddonResources(t *testing.T) {
	f := setup(t)

	resp := f.do(t, http.MethodGet, "/api/v1/addon/manifest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(staleHeader))

	resp = f.do(t, http.MethodGet, "/api/v1/addon/meta/movie/tt1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Contains(t, doc, "meta")

	resp = f.do(t, http.MethodGet, "/api/v1/addon/catalog/movie/top?q=heat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	catalog := decodeBody[catalogView](t, resp)
	require.Len(t, catalog.Metas, 1)
	assert.Equal(t, "Heat", catalog.Metas[0].Name)

	// Served from cache while the add-on is down
	f.addon.Close()
	resp = f.do(t, http.MethodGet, "/api/v1/addon/catalog/movie/top", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[catalogView](t, resp).Metas, 2)

	resp = f.do(t, http.MethodGet, "/api/v1/addon/meta/movie/tt404", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMaintenance(t *testing.T) {
	f := setup(t)
	seedRemote(f.remote)

	resp := f.do(t, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/replica/reset", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/status", nil)
	assert.Zero(t, decodeBody[statusView](t, resp).Shows)

	resp = f.do(t, http.MethodPost, "/api/v1/cache/clear", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidScope, http.StatusBadRequest},
		{domain.ErrSyncInProgress, http.StatusConflict},
		{domain.ErrUnavailable, http.StatusServiceUnavailable},
		{&domain.RemoteError{Kind: domain.KindAuthExpired}, http.StatusUnauthorized},
		{&domain.RemoteError{Kind: domain.KindRateLimited}, http.StatusTooManyRequests},
		{&domain.RemoteError{Kind: domain.KindTransientNetwork}, http.StatusBadGateway},
		{&domain.RemoteError{Kind: domain.KindRemoteRejected}, http.StatusUnprocessableEntity},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.err.Error(), " ", "_"), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
