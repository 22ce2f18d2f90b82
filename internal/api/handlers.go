package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/resource"
	"github.com/mmcdole/kinosync/internal/search"
	"github.com/mmcdole/kinosync/internal/writes"
)

const defaultNextUpLimit = 20

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// === Replica ===

type statusView struct {
	Shows           int                  `json:"shows"`
	Episodes        int                  `json:"episodes"`
	WatchedEpisodes int                  `json:"watched_episodes"`
	Movies          int                  `json:"movies"`
	WatchedMovies   int                  `json:"watched_movies"`
	Watchlist       int                  `json:"watchlist"`
	Bookmarks       int                  `json:"bookmarks"`
	Hidden          int                  `json:"hidden"`
	Clocks          map[string]time.Time `json:"clocks"`
	LastClockFetch  *time.Time           `json:"last_clock_fetch,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	view := statusView{
		Shows:           st.Shows,
		Episodes:        st.Episodes,
		WatchedEpisodes: st.WatchedEpisodes,
		Movies:          st.Movies,
		WatchedMovies:   st.WatchedMovies,
		Watchlist:       st.Watchlist,
		Bookmarks:       st.Bookmarks,
		Hidden:          st.Hidden,
		Clocks:          make(map[string]time.Time, len(st.Clocks)),
		LastClockFetch:  optTime(st.LastClockFetch),
	}
	for c, at := range st.Clocks {
		view.Clocks[string(c)] = at
	}
	h.respondJSON(w, http.StatusOK, view)
}

type showView struct {
	TraktID   int64  `json:"trakt_id"`
	IMDBID    string `json:"imdb_id,omitempty"`
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	Watched   int    `json:"watched_episodes"`
	Unwatched int    `json:"unwatched_episodes"`
}

type episodeView struct {
	ShowID  int64      `json:"show_id"`
	Season  int        `json:"season"`
	Number  int        `json:"number"`
	Code    string     `json:"code"`
	TraktID int64      `json:"trakt_id,omitempty"`
	Title   string     `json:"title,omitempty"`
	AirDate *time.Time `json:"air_date,omitempty"`
}

type nextUpView struct {
	Show          showView    `json:"show"`
	Episode       episodeView `json:"episode"`
	LastWatchedAt *time.Time  `json:"last_watched_at,omitempty"`
	Percent       float64     `json:"resume_percent,omitempty"`
	PlaybackID    int64       `json:"playback_id,omitempty"`
}

func newEpisodeView(e *domain.Episode) episodeView {
	return episodeView{
		ShowID:  e.ShowID,
		Season:  e.Season,
		Number:  e.Number,
		Code:    e.Code(),
		TraktID: e.TraktID,
		Title:   e.Title,
		AirDate: optTime(e.AirDate),
	}
}

func (h *Handler) nextUp(w http.ResponseWriter, r *http.Request) {
	next, err := h.engine.GetNextUp(r.Context(), queryInt(r, "limit", defaultNextUpLimit))
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]nextUpView, 0, len(next))
	for _, n := range next {
		v := nextUpView{
			Show: showView{
				TraktID:   n.Show.TraktID,
				IMDBID:    n.Show.IMDBID,
				Title:     n.Show.Title,
				Year:      n.Show.Year,
				Watched:   n.Show.WatchedEpisodes,
				Unwatched: n.Show.UnwatchedEpisodes,
			},
			Episode:       newEpisodeView(n.Episode),
			LastWatchedAt: optTime(n.LastWatchedAt),
		}
		if n.Bookmark != nil {
			v.Percent = n.Bookmark.Percent
			v.PlaybackID = n.Bookmark.PlaybackID
		}
		views = append(views, v)
	}
	h.respondJSON(w, http.StatusOK, views)
}

func (h *Handler) nextUnwatched(w http.ResponseWriter, r *http.Request) {
	showID, ok := pathID(r, "id")
	if !ok {
		h.badRequest(w, "invalid show id")
		return
	}
	ep, err := h.engine.GetNextUnwatched(r.Context(), showID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, newEpisodeView(ep))
}

type watchlistView struct {
	Type     domain.MediaType `json:"type"`
	TraktID  int64            `json:"trakt_id"`
	IMDBID   string           `json:"imdb_id,omitempty"`
	Title    string           `json:"title,omitempty"`
	Year     int              `json:"year,omitempty"`
	ListedAt *time.Time       `json:"listed_at,omitempty"`
	Pending  bool             `json:"pending,omitempty"` // remote ID not resolved yet
}

func (h *Handler) watchlist(w http.ResponseWriter, r *http.Request) {
	mediaType := domain.MediaType(r.URL.Query().Get("type"))
	if mediaType != "" && mediaType != domain.MediaTypeMovie && mediaType != domain.MediaTypeShow {
		h.badRequest(w, "type must be movie or show")
		return
	}
	items, err := h.engine.GetWatchlist(r.Context(), mediaType)
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]watchlistView, 0, len(items))
	for _, item := range items {
		views = append(views, watchlistView{
			Type:     item.Type,
			TraktID:  item.TraktID,
			IMDBID:   item.IMDBID,
			Title:    item.Title,
			Year:     item.Year,
			ListedAt: optTime(item.ListedAt),
			Pending:  item.Placeholder != "",
		})
	}
	h.respondJSON(w, http.StatusOK, views)
}

type searchView struct {
	Type        domain.MediaType `json:"type"`
	TraktID     int64            `json:"trakt_id"`
	IMDBID      string           `json:"imdb_id,omitempty"`
	Title       string           `json:"title"`
	Year        int              `json:"year,omitempty"`
	Watched     bool             `json:"watched"`
	OnWatchlist bool             `json:"on_watchlist"`
	Score       int              `json:"score"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.badRequest(w, "q is required")
		return
	}
	var types []domain.MediaType
	for _, t := range r.URL.Query()["type"] {
		types = append(types, domain.MediaType(t))
	}
	results, err := h.engine.Search(r.Context(), query, types)
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]searchView, 0, len(results))
	for _, res := range results {
		views = append(views, newSearchView(res))
	}
	h.respondJSON(w, http.StatusOK, views)
}

func newSearchView(r search.Result) searchView {
	return searchView{
		Type:        r.Type,
		TraktID:     r.TraktID,
		IMDBID:      r.IMDBID,
		Title:       r.Title,
		Year:        r.Year,
		Watched:     r.Watched,
		OnWatchlist: r.OnWatchlist,
		Score:       r.Score,
	}
}

// === Mutations ===

type targetRequest struct {
	Type    domain.MediaType `json:"type" validate:"required,oneof=movie show episode"`
	TraktID int64            `json:"trakt_id" validate:"required_without=IMDBID,gte=0"`
	IMDBID  string           `json:"imdb_id" validate:"omitempty,startswith=tt"`
	Season  int              `json:"season" validate:"gte=0"`
	Number  int              `json:"number" validate:"gte=0"`
	Scope   domain.Scope     `json:"scope" validate:"omitempty,oneof=item season show"`
	Wait    bool             `json:"wait"` // block until the remote confirms or rejects
}

func (t targetRequest) target() domain.Target {
	return domain.Target{Type: t.Type, TraktID: t.TraktID, IMDBID: t.IMDBID, Season: t.Season, Number: t.Number}
}

type pendingView struct {
	ID      string               `json:"id"`
	Op      string               `json:"op"`
	Target  string               `json:"target"`
	State   domain.MutationState `json:"state"`
	TraktID int64                `json:"trakt_id,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func (h *Handler) markWatched(w http.ResponseWriter, r *http.Request) {
	h.mutateTarget(w, r, func(req targetRequest) (*writes.Pending, error) {
		return h.engine.MarkWatched(r.Context(), req.target(), req.Scope)
	})
}

func (h *Handler) markUnwatched(w http.ResponseWriter, r *http.Request) {
	h.mutateTarget(w, r, func(req targetRequest) (*writes.Pending, error) {
		return h.engine.MarkUnwatched(r.Context(), req.target(), req.Scope)
	})
}

func (h *Handler) addToWatchlist(w http.ResponseWriter, r *http.Request) {
	h.mutateTarget(w, r, func(req targetRequest) (*writes.Pending, error) {
		return h.engine.AddToWatchlist(r.Context(), req.target())
	})
}

func (h *Handler) removeFromWatchlist(w http.ResponseWriter, r *http.Request) {
	h.mutateTarget(w, r, func(req targetRequest) (*writes.Pending, error) {
		return h.engine.RemoveFromWatchlist(r.Context(), req.target())
	})
}

func (h *Handler) hide(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, h.engine.HideFromProgress)
}

func (h *Handler) unhide(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, h.engine.UnhideFromProgress)
}

func (h *Handler) removePlayback(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, h.engine.RemovePlayback)
}

func (h *Handler) mutateTarget(w http.ResponseWriter, r *http.Request, fn func(targetRequest) (*writes.Pending, error)) {
	var req targetRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := fn(req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondPending(w, r, p, req.Wait)
}

func (h *Handler) mutateID(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (*writes.Pending, error)) {
	id, ok := pathID(r, "id")
	if !ok {
		h.badRequest(w, "invalid id")
		return
	}
	p, err := fn(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondPending(w, r, p, r.URL.Query().Get("wait") == "true")
}

func (h *Handler) respondPending(w http.ResponseWriter, r *http.Request, p *writes.Pending, wait bool) {
	view := pendingView{ID: p.ID, Op: p.Op, Target: p.Target.String(), State: domain.MutationPending}
	if !wait {
		h.respondJSON(w, http.StatusAccepted, view)
		return
	}
	out, err := p.Wait(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	view.State = out.State
	view.TraktID = out.TraktID
	if out.Err != nil {
		view.Error = out.Err.Error()
	}
	h.respondJSON(w, http.StatusOK, view)
}

// === Sync & maintenance ===

type syncRequest struct {
	Force bool `json:"force"`
}

type taskView struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
	Error    string `json:"error,omitempty"`
}

type syncView struct {
	Skipped     bool       `json:"skipped"`
	Interrupted bool       `json:"interrupted"`
	StartedAt   time.Time  `json:"started_at"`
	DurationMS  int64      `json:"duration_ms"`
	Advanced    []string   `json:"advanced"`
	Tasks       []taskView `json:"tasks"`
}

func (h *Handler) syncNow(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	report, err := h.engine.SyncNow(r.Context(), req.Force)
	if err != nil {
		h.respondError(w, err)
		return
	}
	view := syncView{
		Skipped:     report.Skipped,
		Interrupted: report.Interrupted,
		StartedAt:   report.StartedAt,
		DurationMS:  report.Duration.Milliseconds(),
		Advanced:    []string{},
		Tasks:       []taskView{},
	}
	for _, c := range report.Advanced {
		view.Advanced = append(view.Advanced, string(c))
	}
	for _, t := range report.Tasks {
		tv := taskView{Category: string(t.Category), Count: t.Count}
		if t.Err != nil {
			tv.Error = t.Err.Error()
		}
		view.Tasks = append(view.Tasks, tv)
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *Handler) clearCaches(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearCaches(); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resetReplica(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetReplica(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Add-on resources ===

// Stale payloads are flagged in a header; the body is passed through.
const staleHeader = "X-Cache-Stale"

func (h *Handler) manifest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.GetManifest(r.Context())
	h.respondResource(w, res, err)
}

func (h *Handler) meta(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.GetMetadata(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	h.respondResource(w, res, err)
}

func (h *Handler) respondResource(w http.ResponseWriter, res resource.Result, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if res.Stale {
		w.Header().Set(staleHeader, "true")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Payload)
}

type catalogView struct {
	Metas []resource.CatalogItem `json:"metas"`
	Stale bool                   `json:"stale,omitempty"`
}

// catalog serves one catalog page. Query parameters other than q are
// add-on extra filters; q narrows the page locally by fuzzy name match.
func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	filters := make(map[string]string)
	for k, v := range r.URL.Query() {
		if k != "q" && len(v) > 0 {
			filters[k] = v[0]
		}
	}
	catalog, err := h.engine.GetCatalog(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}

	view := catalogView{Metas: catalog.Items, Stale: catalog.Stale}
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		matches := search.FilterCatalog(q, catalog.Items)
		view.Metas = make([]resource.CatalogItem, len(matches))
		for i, m := range matches {
			view.Metas[i] = m.Item
		}
	}
	if view.Metas == nil {
		view.Metas = []resource.CatalogItem{}
	}
	if catalog.Stale {
		w.Header().Set(staleHeader, "true")
	}
	h.respondJSON(w, http.StatusOK, view)
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
