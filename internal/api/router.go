// Package api exposes the engine entry points as a local JSON API for
// collaborators running out of process.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/library"
	"github.com/mmcdole/kinosync/internal/resource"
	"github.com/mmcdole/kinosync/internal/search"
	"github.com/mmcdole/kinosync/internal/writes"
)

// Engine is the set of entry points the API serves.
type Engine interface {
	GetManifest(ctx context.Context) (resource.Result, error)
	GetCatalog(ctx context.Context, contentType, catalogID string, filters map[string]string) (resource.Catalog, error)
	GetMetadata(ctx context.Context, contentType, id string) (resource.Result, error)

	MarkWatched(ctx context.Context, target domain.Target, scope domain.Scope) (*writes.Pending, error)
	MarkUnwatched(ctx context.Context, target domain.Target, scope domain.Scope) (*writes.Pending, error)
	AddToWatchlist(ctx context.Context, target domain.Target) (*writes.Pending, error)
	RemoveFromWatchlist(ctx context.Context, target domain.Target) (*writes.Pending, error)
	HideFromProgress(ctx context.Context, showID int64) (*writes.Pending, error)
	UnhideFromProgress(ctx context.Context, showID int64) (*writes.Pending, error)
	RemovePlayback(ctx context.Context, playbackID int64) (*writes.Pending, error)

	GetNextUnwatched(ctx context.Context, showID int64) (*domain.Episode, error)
	GetNextUp(ctx context.Context, limit int) ([]domain.NextEpisode, error)
	GetWatchlist(ctx context.Context, mediaType domain.MediaType) ([]*domain.WatchlistItem, error)
	Search(ctx context.Context, query string, types []domain.MediaType) ([]search.Result, error)
	Status(ctx context.Context) (library.Status, error)

	SyncNow(ctx context.Context, force bool) (domain.SyncReport, error)
	ClearCaches() error
	ResetReplica(ctx context.Context) error
}

// Handler serves the API.
type Handler struct {
	engine   Engine
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler creates the API handler.
func NewHandler(engine Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:   engine,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/sync", h.syncNow)

		r.Get("/next-up", h.nextUp)
		r.Get("/shows/{id}/next", h.nextUnwatched)
		r.Get("/search", h.search)

		r.Get("/watchlist", h.watchlist)
		r.Post("/watchlist", h.addToWatchlist)
		r.Delete("/watchlist", h.removeFromWatchlist)

		r.Post("/watched", h.markWatched)
		r.Delete("/watched", h.markUnwatched)

		r.Put("/hidden/{id}", h.hide)
		r.Delete("/hidden/{id}", h.unhide)
		r.Delete("/playback/{id}", h.removePlayback)

		r.Route("/addon", func(r chi.Router) {
			r.Get("/manifest", h.manifest)
			r.Get("/catalog/{type}/{id}", h.catalog)
			r.Get("/meta/{type}/{id}", h.meta)
		})

		r.Post("/cache/clear", h.clearCaches)
		r.Post("/replica/reset", h.resetReplica)
	})
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"requestId", chimiddleware.GetReqID(r.Context()))
	})
}
