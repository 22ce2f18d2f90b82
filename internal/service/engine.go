// Package service wires the cache, replica, sync and write components into
// the Engine, the single entry point collaborators call.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/kinosync/internal/adapter"
	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/library"
	"github.com/mmcdole/kinosync/internal/metrics"
	"github.com/mmcdole/kinosync/internal/prefetch"
	"github.com/mmcdole/kinosync/internal/replica"
	"github.com/mmcdole/kinosync/internal/resource"
	"github.com/mmcdole/kinosync/internal/search"
	"github.com/mmcdole/kinosync/internal/store"
	"github.com/mmcdole/kinosync/internal/syncer"
	"github.com/mmcdole/kinosync/internal/worker"
	"github.com/mmcdole/kinosync/internal/writes"
)

// OpSync is the Outcome.Op of the state-changed signal fired after a sync
// cycle pulled at least one category.
const OpSync = "sync"

// Account is the remote account service the engine reads and writes.
type Account interface {
	domain.TraktRepository
	domain.TraktWriter
}

// Options configures an Engine. Config and Trakt are required; Addon may be
// nil, in which case only cached resources are served.
type Options struct {
	Config       *adapter.Config
	Trakt        Account
	Addon        domain.ResourceRepository
	Notifier     domain.Notifier
	SyncObserver domain.SyncObserver
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service is a long-running background component of the engine. It
// matches suture.Service.
type Service interface {
	Serve(ctx context.Context) error
	String() string
}

// Engine owns every component for one profile.
type Engine struct {
	cfg    *adapter.Config
	logger *slog.Logger
	now    func() time.Time

	cache       *store.Cache
	retention   time.Duration
	replica     *replica.Store
	reader      *resource.Reader
	pool        *worker.Pool
	suppressor  *worker.Suppressor
	coordinator *syncer.Coordinator
	writes      *writes.Manager
	prefetch    *prefetch.Scheduler
	library     *library.Queries
	search      *search.Service

	mu        sync.RWMutex // Protects listeners
	listeners []domain.StateListener

	closeOnce sync.Once
}

// New opens the profile's cache and replica and wires the components. The
// background services returned by Services must be running for writes and
// warm jobs to make progress.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if opts.Trakt == nil {
		return nil, fmt.Errorf("account source is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{logger: opts.Logger}
	}
	logger := opts.Logger

	policy := store.DefaultPolicy()
	policy.Manifest = cfg.Cache.ManifestTTL
	policy.Catalog = cfg.Cache.CatalogTTL

	cache, err := store.Open(adapter.ProfileDir(cfg.Cache.Dir, cfg.Profile), store.Options{
		MemoryEntries:  cfg.Cache.MemoryEntries,
		ConditionalTTL: policy.Conditional,
		Observers:      []domain.CacheObserver{metrics.CacheObserver{}},
		Logger:         logger,
		Now:            opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("open resource cache: %w", err)
	}

	rep, err := replica.Open(adapter.ProfileDir(cfg.Replica.Dir, cfg.Profile),
		replica.WithLogger(logger), replica.WithClock(opts.Now))
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("open replica: %w", err)
	}

	backoff := worker.Backoff{Attempts: cfg.Workers.MaxRetries, Base: cfg.Workers.RetryBase, Max: 30 * time.Second}
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		now:        opts.Now,
		cache:      cache,
		retention:  policy.Retention(cfg.Cache.MaxRetention),
		replica:    rep,
		suppressor: &worker.Suppressor{},
		pool:       worker.NewPool(cfg.Workers.Size, cfg.Workers.QueueSize, cfg.Workers.DrainTimeout, logger),
	}
	if e.retention > cfg.Cache.MaxRetention {
		logger.Warn("cache max_retention raised to the longest freshness window",
			"configured", cfg.Cache.MaxRetention, "retention", e.retention)
	}

	e.reader = resource.NewReader(cache, opts.Addon, resource.Options{
		Policy:  policy,
		Backoff: backoff,
		Logger:  logger,
		Now:     opts.Now,
	})

	e.coordinator = syncer.New(rep, opts.Trakt, syncer.Options{
		MinInterval: cfg.Sync.MinInterval,
		TaskTimeout: cfg.Sync.TaskTimeout,
		Backoff:     backoff,
		Suppressor:  e.suppressor,
		Observer:    syncSignal{engine: e, next: opts.SyncObserver},
		Logger:      logger,
		Now:         opts.Now,
	})

	e.writes = writes.New(rep, opts.Trakt, e.pool, writes.Options{
		WriteTimeout: cfg.Workers.WriteTimeout,
		Notifier:     opts.Notifier,
		Logger:       logger,
		Now:          opts.Now,
	})

	e.library = library.NewQueries(rep, logger)
	e.search = search.NewService(rep, logger)

	if cfg.Prefetch.Enabled {
		e.prefetch = prefetch.New(e.reader, e.library, e.pool, prefetch.Options{
			CatalogDepth: cfg.Prefetch.CatalogDepth,
			NextUpLimit:  cfg.Prefetch.NextUpLimit,
			Suppressor:   e.suppressor,
			Logger:       logger,
		})
	}

	e.writes.Subscribe(metrics.StateListener{})
	e.writes.Subscribe(domain.StateListenerFunc(e.onWriteSettled))
	return e, nil
}

// Services returns the background services to run under a supervisor: the
// worker pool, the periodic sync ticker and the cache sweeper.
func (e *Engine) Services() []Service {
	return []Service{
		e.pool,
		syncer.NewTicker(e.coordinator, e.pool, e.cfg.Sync.Interval, e.cfg.Sync.OnStartup, e.logger),
		store.NewSweeper(e.cache, e.cfg.Cache.SweepInterval, e.retention),
	}
}

// Close releases the cache and replica. Background services should be
// stopped first so in-flight writes can settle.
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		if err := e.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
		if err := e.replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close replica: %w", err))
		}
	})
	return errors.Join(errs...)
}

// === Resources ===

// FetchResource returns any cached resource by type and key, revalidating
// when stale.
func (e *Engine) FetchResource(ctx context.Context, t domain.ResourceType, key string) (resource.Result, error) {
	return e.reader.Fetch(ctx, t, key)
}

// GetManifest returns the add-on manifest.
func (e *Engine) GetManifest(ctx context.Context) (resource.Result, error) {
	return e.reader.GetManifest(ctx)
}

// GetCatalog returns a catalog page and warms the metadata of its first
// entries.
func (e *Engine) GetCatalog(ctx context.Context, contentType, catalogID string, filters map[string]string) (resource.Catalog, error) {
	catalog, err := e.reader.GetCatalog(ctx, contentType, catalogID, filters)
	if err != nil {
		return catalog, err
	}
	if e.prefetch != nil {
		e.prefetch.WarmCatalog(catalog.Items)
	}
	return catalog, nil
}

// GetMetadata returns one metadata document.
func (e *Engine) GetMetadata(ctx context.Context, contentType, id string) (resource.Result, error) {
	return e.reader.GetMetadata(ctx, contentType, id)
}

// === Mutations ===

func (e *Engine) MarkWatched(ctx context.Context, target domain.Target, scope domain.Scope) (*writes.Pending, error) {
	return e.writes.MarkWatched(ctx, target, scope)
}

func (e *Engine) MarkUnwatched(ctx context.Context, target domain.Target, scope domain.Scope) (*writes.Pending, error) {
	return e.writes.MarkUnwatched(ctx, target, scope)
}

func (e *Engine) AddToWatchlist(ctx context.Context, target domain.Target) (*writes.Pending, error) {
	return e.writes.AddToWatchlist(ctx, target)
}

func (e *Engine) RemoveFromWatchlist(ctx context.Context, target domain.Target) (*writes.Pending, error) {
	return e.writes.RemoveFromWatchlist(ctx, target)
}

func (e *Engine) HideFromProgress(ctx context.Context, showID int64) (*writes.Pending, error) {
	return e.writes.HideFromProgress(ctx, showID)
}

func (e *Engine) UnhideFromProgress(ctx context.Context, showID int64) (*writes.Pending, error) {
	return e.writes.UnhideFromProgress(ctx, showID)
}

// RemovePlayback deletes a paused playback position.
func (e *Engine) RemovePlayback(ctx context.Context, playbackID int64) (*writes.Pending, error) {
	return e.writes.RemovePlayback(ctx, playbackID)
}

// === Replica reads ===

func (e *Engine) GetNextUnwatched(ctx context.Context, showID int64) (*domain.Episode, error) {
	return e.library.NextUnwatched(ctx, showID)
}

func (e *Engine) GetNextUp(ctx context.Context, limit int) ([]domain.NextEpisode, error) {
	return e.library.NextUp(ctx, limit)
}

// GetWatchlist returns the watchlist for one media type, or both when
// mediaType is empty.
func (e *Engine) GetWatchlist(ctx context.Context, mediaType domain.MediaType) ([]*domain.WatchlistItem, error) {
	return e.library.Watchlist(ctx, mediaType)
}

// Library exposes the remaining replica queries.
func (e *Engine) Library() *library.Queries {
	return e.library
}

// Status summarizes the replica.
func (e *Engine) Status(ctx context.Context) (library.Status, error) {
	return e.library.Status(ctx)
}

// Search ranks replica titles against query. Background work stands down
// while the search runs.
func (e *Engine) Search(ctx context.Context, query string, types []domain.MediaType) ([]search.Result, error) {
	release := e.suppressor.Suppress()
	defer release()
	return e.search.Search(ctx, query, types)
}

// === Sync & maintenance ===

// SyncNow runs one sync cycle on the caller's goroutine. force bypasses
// the clock fetch throttle. The next-up list is warmed afterwards.
func (e *Engine) SyncNow(ctx context.Context, force bool) (domain.SyncReport, error) {
	report, err := e.coordinator.Run(ctx, force)
	if err != nil {
		return report, err
	}
	if e.prefetch != nil && len(report.Advanced) > 0 {
		e.prefetch.WarmNextUp(0)
	}
	return report, nil
}

// SyncState reports where the coordinator is in its cycle.
func (e *Engine) SyncState() domain.SyncState {
	return e.coordinator.State()
}

// Suppress asks background work to stand down until release is called.
func (e *Engine) Suppress() (release func()) {
	return e.suppressor.Suppress()
}

// ClearCaches drops every cached resource from both tiers.
func (e *Engine) ClearCaches() error {
	n, err := e.cache.Sweep(0, true)
	if err != nil {
		return fmt.Errorf("clear caches: %w", err)
	}
	e.logger.Info("resource cache cleared", "removed", n)
	return nil
}

// CacheStats returns the resource cache counters.
func (e *Engine) CacheStats() store.Stats {
	return e.cache.Stats()
}

// ResetReplica empties the replica; the next sync pulls everything.
func (e *Engine) ResetReplica(ctx context.Context) error {
	if err := e.replica.Reset(ctx); err != nil {
		return fmt.Errorf("reset replica: %w", err)
	}
	e.logger.Info("replica reset")
	return nil
}

// Subscribe registers l for state-changed signals from writes and syncs.
func (e *Engine) Subscribe(l domain.StateListener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

func (e *Engine) broadcast(change domain.StateChange) {
	e.mu.RLock()
	listeners := append([]domain.StateListener(nil), e.listeners...)
	e.mu.RUnlock()
	for _, l := range listeners {
		l.OnStateChanged(change)
	}
}

func (e *Engine) onWriteSettled(change domain.StateChange) {
	out := change.Outcome
	if e.prefetch != nil && out.Op == writes.OpMarkWatched && out.State == domain.MutationConfirmed {
		switch out.Target.Type {
		case domain.MediaTypeEpisode, domain.MediaTypeShow:
			showID := out.Target.TraktID
			if showID == 0 {
				showID = out.TraktID
			}
			if showID > 0 {
				e.prefetch.AfterWatched(showID)
			}
		}
	}
	e.broadcast(change)
}

// syncSignal turns the end of a productive sync cycle into a state-changed
// signal and forwards progress to the caller's observer.
type syncSignal struct {
	engine *Engine
	next   domain.SyncObserver
}

func (s syncSignal) OnProgress(p domain.SyncProgress) {
	if s.next != nil {
		s.next.OnProgress(p)
	}
	if p.Done && p.Total > 0 {
		s.engine.broadcast(domain.StateChange{
			Outcome: domain.Outcome{Op: OpSync, State: domain.MutationConfirmed},
			At:      s.engine.now(),
		})
	}
}

// logNotifier is the default notifier when the caller supplies none.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(msg domain.Notification) {
	n.logger.Warn(msg.Title, "message", msg.Message, "error", msg.Err)
}
