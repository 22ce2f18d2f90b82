// Package resource is the read path for add-on resources: serve from the
// cache while fresh, revalidate conditionally once stale, and fall back to
// the stale copy when the network fails.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/store"
	"github.com/mmcdole/kinosync/internal/worker"
)

// Result is a payload handed to the caller. Stale is set when revalidation
// failed and the previous payload is served anyway; Err then holds the
// soft failure.
type Result struct {
	Payload  []byte
	StoredAt time.Time
	Stale    bool
	Err      error
}

// Options configures a Reader.
type Options struct {
	Policy  store.Policy
	Backoff worker.Backoff
	Logger  *slog.Logger
	Now     func() time.Time
}

// Reader serves resources through the cache.
type Reader struct {
	cache   *store.Cache
	source  domain.ResourceRepository
	policy  store.Policy
	backoff worker.Backoff
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group
}

// NewReader creates a read path over cache. source may be nil, in which
// case only cached payloads are served.
func NewReader(cache *store.Cache, source domain.ResourceRepository, opts Options) *Reader {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == (store.Policy{}) {
		opts.Policy = store.DefaultPolicy()
	}
	return &Reader{
		cache:   cache,
		source:  source,
		policy:  opts.Policy,
		backoff: opts.Backoff,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// Fetch returns the resource stored under key, whose add-on path is the key
// itself. A fresh entry is returned without a network call. A stale entry
// is revalidated with its stored validators; a 304 refreshes it in place.
// When revalidation fails the stale payload is returned with a soft error.
// domain.ErrUnavailable is returned only when nothing is cached and the
// fetch failed.
func (r *Reader) Fetch(ctx context.Context, t domain.ResourceType, key string) (Result, error) {
	if e, ok := r.fresh(t, key); ok {
		return Result{Payload: e.Payload, StoredAt: e.StoredAt}, nil
	}

	// The shared fetch outlives any one caller; others may be waiting on it
	ch := r.group.DoChan(string(t)+"\x00"+key, func() (any, error) {
		return r.revalidate(context.WithoutCancel(ctx), t, key)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

// Invalidate drops a cached resource and its validators.
func (r *Reader) Invalidate(t domain.ResourceType, key string) {
	r.cache.Invalidate(t, key)
}

// Fresh reports whether key is cached and inside its freshness window.
func (r *Reader) Fresh(t domain.ResourceType, key string) bool {
	_, ok := r.fresh(t, key)
	return ok
}

func (r *Reader) fresh(t domain.ResourceType, key string) (store.Entry, bool) {
	if t != domain.ResourceMetadata {
		return r.cache.Get(t, key, r.policy.TTL(t))
	}
	return r.cache.GetWithin(t, key, r.policy.MetadataTTL)
}

func (r *Reader) revalidate(ctx context.Context, t domain.ResourceType, key string) (Result, error) {
	// Another caller may have refreshed it while we waited
	if e, ok := r.fresh(t, key); ok {
		return Result{Payload: e.Payload, StoredAt: e.StoredAt}, nil
	}

	stale, hasStale := r.cache.Peek(t, key)
	if r.source == nil {
		if hasStale {
			return Result{Payload: stale.Payload, StoredAt: stale.StoredAt, Stale: true, Err: domain.ErrServerOffline}, nil
		}
		return Result{}, fmt.Errorf("%s %s: %w", t, key, domain.ErrUnavailable)
	}

	var cond domain.ConditionalMeta
	if hasStale {
		cond, _ = r.cache.GetConditional(t, key)
	}

	var res *domain.FetchResult
	err := worker.Retry(ctx, r.backoff, r.logger, "fetch "+key, func(ctx context.Context) error {
		var err error
		res, err = r.source.Fetch(ctx, key, cond)
		return err
	})
	if err != nil {
		if hasStale {
			r.logger.Warn("revalidation failed, serving stale", "type", t, "key", key, "error", err)
			return Result{Payload: stale.Payload, StoredAt: stale.StoredAt, Stale: true, Err: err}, nil
		}
		r.logger.Error("resource fetch failed", "type", t, "key", key, "error", err)
		return Result{}, fmt.Errorf("%s %s: %w: %w", t, key, domain.ErrUnavailable, err)
	}

	if res.NotModified {
		if !hasStale {
			return Result{}, fmt.Errorf("%s %s: not modified without a cached payload: %w", t, key, domain.ErrUnavailable)
		}
		if err := r.cache.Touch(t, key); err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("failed to refresh cache entry", "type", t, "key", key, "error", err)
		}
		r.storeConditional(t, key, res.Meta, cond)
		return Result{Payload: stale.Payload, StoredAt: r.now()}, nil
	}

	if err := r.cache.Set(t, key, res.Body); err != nil {
		r.logger.Warn("failed to cache resource", "type", t, "key", key, "error", err)
	}
	r.storeConditional(t, key, res.Meta, domain.ConditionalMeta{})
	return Result{Payload: res.Body, StoredAt: r.now()}, nil
}

// storeConditional records the validators of a response. A 304 may omit
// them, in which case the ones we sent stay valid.
func (r *Reader) storeConditional(t domain.ResourceType, key string, meta, sent domain.ConditionalMeta) {
	if meta.Empty() {
		meta = sent
	}
	if meta.Empty() {
		return
	}
	if err := r.cache.SetConditional(t, key, meta); err != nil {
		r.logger.Warn("failed to store validators", "type", t, "key", key, "error", err)
	}
}
