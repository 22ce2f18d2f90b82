// Package prefetch warms the resource cache ahead of demand. Warm jobs run
// on the worker pool, back off when background work is suppressed and
// never report errors to the caller.
package prefetch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/metrics"
	"github.com/mmcdole/kinosync/internal/resource"
	"github.com/mmcdole/kinosync/internal/worker"
)

// Add-on content types of the documents warmed here.
const (
	TypeMovie  = "movie"
	TypeSeries = "series"
)

// MetadataReader fetches metadata documents through the cache.
type MetadataReader interface {
	GetMetadata(ctx context.Context, contentType, id string) (resource.Result, error)
}

// Library is the replica view the scheduler reads next-up state from.
type Library interface {
	NextUp(ctx context.Context, limit int) ([]domain.NextEpisode, error)
	NextUnwatched(ctx context.Context, showID int64) (*domain.Episode, error)
	Get(ctx context.Context, key domain.Key) (domain.Entity, error)
}

// Submitter runs warm jobs in the background.
type Submitter interface {
	Submit(name string, fn worker.Task) error
}

// Options configures a Scheduler.
type Options struct {
	CatalogDepth int
	NextUpLimit  int
	Suppressor   *worker.Suppressor
	Logger       *slog.Logger
}

// Scheduler submits warm jobs.
type Scheduler struct {
	reader  MetadataReader
	library Library
	pool    Submitter
	opts    Options
	logger  *slog.Logger
}

// New creates a warm scheduler.
func New(reader MetadataReader, library Library, pool Submitter, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CatalogDepth <= 0 {
		opts.CatalogDepth = 10
	}
	if opts.NextUpLimit <= 0 {
		opts.NextUpLimit = 20
	}
	return &Scheduler{reader: reader, library: library, pool: pool, opts: opts, logger: opts.Logger}
}

// WarmNextUp warms the series document of every show in the next-up list.
// A limit of zero uses the configured default.
func (s *Scheduler) WarmNextUp(limit int) {
	if limit <= 0 {
		limit = s.opts.NextUpLimit
	}
	s.submit("next_up", func(ctx context.Context) (int, error) {
		next, err := s.library.NextUp(ctx, limit)
		if err != nil {
			return 0, err
		}
		ids := make([]string, 0, len(next))
		for _, n := range next {
			if n.Show != nil && n.Show.IMDBID != "" {
				ids = append(ids, n.Show.IMDBID)
			}
		}
		return s.warm(ctx, TypeSeries, ids)
	})
}

// WarmCatalog warms the metadata documents of the first items of a
// catalog page.
func (s *Scheduler) WarmCatalog(items []resource.CatalogItem) {
	if len(items) > s.opts.CatalogDepth {
		items = items[:s.opts.CatalogDepth]
	}
	if len(items) == 0 {
		return
	}
	items = append([]resource.CatalogItem(nil), items...)
	s.submit("catalog", func(ctx context.Context) (int, error) {
		n := 0
		for _, item := range items {
			if item.ID == "" {
				continue
			}
			warmed, err := s.warm(ctx, item.Type, []string{item.ID})
			n += warmed
			if err != nil {
				return n, err
			}
		}
		return n, nil
	})
}

// AfterWatched warms the series document of a show once one of its
// episodes was watched, so the next episode opens from cache.
func (s *Scheduler) AfterWatched(showID int64) {
	s.submit("after_watched", func(ctx context.Context) (int, error) {
		next, err := s.library.NextUnwatched(ctx, showID)
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		e, err := s.library.Get(ctx, domain.ShowKey(showID))
		if err != nil {
			return 0, err
		}
		show := e.(*domain.Show)
		if show.IMDBID == "" {
			return 0, nil
		}
		s.logger.Debug("warming next episode", "show", showID, "episode", next.Code())
		return s.warm(ctx, TypeSeries, []string{show.IMDBID})
	})
}

func (s *Scheduler) warm(ctx context.Context, contentType string, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if s.opts.Suppressor.Suppressed() {
			return n, domain.ErrSuppressed
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := s.reader.GetMetadata(ctx, contentType, id); err != nil {
			s.logger.Debug("warm failed", "type", contentType, "id", id, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *Scheduler) submit(kind string, job func(ctx context.Context) (int, error)) {
	if s.opts.Suppressor.Suppressed() {
		metrics.PrefetchJobs.WithLabelValues(kind, "suppressed").Inc()
		return
	}
	err := s.pool.Submit("prefetch "+kind, func(ctx context.Context) error {
		n, err := job(ctx)
		switch {
		case errors.Is(err, domain.ErrSuppressed):
			metrics.PrefetchJobs.WithLabelValues(kind, "suppressed").Inc()
		case err != nil:
			s.logger.Debug("warm job failed", "kind", kind, "error", err)
			metrics.PrefetchJobs.WithLabelValues(kind, "error").Inc()
		default:
			s.logger.Debug("warm job finished", "kind", kind, "warmed", n)
			metrics.PrefetchJobs.WithLabelValues(kind, "ok").Inc()
		}
		// Warm failures stay local to this job
		return nil
	})
	if err != nil {
		s.logger.Debug("warm job dropped", "kind", kind, "error", err)
		metrics.PrefetchJobs.WithLabelValues(kind, "dropped").Inc()
	}
}
