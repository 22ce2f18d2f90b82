// Package syncer pulls changed account categories from the remote service
// into the replica. A cycle compares the remote activity clock against the
// local one and runs only the categories that moved.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/metrics"
	"github.com/mmcdole/kinosync/internal/replica"
	"github.com/mmcdole/kinosync/internal/worker"
)

// Options configures a Coordinator.
type Options struct {
	MinInterval time.Duration // throttle for the remote clock fetch
	TaskTimeout time.Duration
	Backoff     worker.Backoff
	Suppressor  *worker.Suppressor
	Observer    domain.SyncObserver
	Logger      *slog.Logger
	Now         func() time.Time
}

// ClockResult is the outcome of a remote clock fetch.
type ClockResult struct {
	Clock   domain.ActivityClock
	Skipped bool // throttled, no network call made
}

// Coordinator runs delta-sync cycles. At most one cycle runs at a time.
type Coordinator struct {
	replica *replica.Store
	remote  domain.TraktRepository
	opts    Options
	logger  *slog.Logger

	running sync.Mutex

	mu    sync.RWMutex // Protects state
	state domain.SyncState
}

// New creates a coordinator pulling from remote into store.
func New(store *replica.Store, remote domain.TraktRepository, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = domain.NoOpObserver{}
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	return &Coordinator{
		replica: store,
		remote:  remote,
		opts:    opts,
		logger:  opts.Logger,
		state:   domain.SyncIdle,
	}
}

// State reports where the coordinator is in its cycle.
func (c *Coordinator) State() domain.SyncState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s domain.SyncState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// LastClockFetch returns when the remote clock was last fetched.
func (c *Coordinator) LastClockFetch(ctx context.Context) (time.Time, error) {
	var at time.Time
	err := c.replica.View(ctx, func(tx *replica.Tx) error {
		var err error
		at, err = tx.StateTime(replica.StateLastClockFetch)
		return err
	})
	return at, err
}

// FetchRemoteClock fetches the remote activity clock. Unless force is set,
// a call within MinInterval of the previous fetch is skipped without a
// network call. The fetch time is persisted so the throttle survives
// restarts.
func (c *Coordinator) FetchRemoteClock(ctx context.Context, force bool) (ClockResult, error) {
	now := c.opts.Now()
	if !force && c.opts.MinInterval > 0 {
		last, err := c.LastClockFetch(ctx)
		if err != nil {
			return ClockResult{}, err
		}
		if !last.IsZero() && now.Sub(last) < c.opts.MinInterval {
			c.logger.Debug("activity clock fetched too recently, skipping", "last", last)
			return ClockResult{Skipped: true}, nil
		}
	}

	var clock domain.ActivityClock
	err := worker.Retry(ctx, c.opts.Backoff, c.logger, "last_activities", func(ctx context.Context) error {
		var err error
		clock, err = c.remote.GetLastActivities(ctx)
		return err
	})
	if err != nil {
		return ClockResult{}, fmt.Errorf("fetch activity clock: %w", err)
	}

	err = c.replica.Update(ctx, func(tx *replica.Tx) error {
		return tx.SetStateTime(replica.StateLastClockFetch, now)
	})
	if err != nil {
		return ClockResult{}, err
	}
	return ClockResult{Clock: clock}, nil
}

// ShouldSync reports whether category moved remotely since the last pull.
func ShouldSync(category domain.Category, local, remote domain.ActivityClock) bool {
	return remote[category].After(local[category])
}

// Run executes one sync cycle. Categories are pulled in a fixed order, each
// isolated from the others: a failed category is reported and its clock
// left alone while the rest proceed. The suppression flag is checked before
// every task; a suppressed cycle stops and reports Interrupted.
func (c *Coordinator) Run(ctx context.Context, force bool) (report domain.SyncReport, err error) {
	if !c.running.TryLock() {
		return domain.SyncReport{}, domain.ErrSyncInProgress
	}
	defer c.running.Unlock()
	defer c.setState(domain.SyncIdle)

	report.StartedAt = c.opts.Now()
	defer func() { report.Duration = c.opts.Now().Sub(report.StartedAt) }()

	c.setState(domain.SyncFetchingClock)
	clock, err := c.FetchRemoteClock(ctx, force)
	if err != nil {
		c.logger.Error("sync failed to fetch activity clock", "error", err)
		metrics.SyncCycles.WithLabelValues("failed").Inc()
		return report, err
	}
	if clock.Skipped {
		c.setState(domain.SyncThrottled)
		report.Skipped = true
		metrics.SyncCycles.WithLabelValues("skipped").Inc()
		return report, nil
	}

	local, err := c.replica.Clocks(ctx)
	if err != nil {
		metrics.SyncCycles.WithLabelValues("failed").Inc()
		return report, err
	}

	var changed []domain.Category
	for _, category := range domain.Categories {
		if ShouldSync(category, local, clock.Clock) {
			changed = append(changed, category)
		}
	}
	if len(changed) == 0 {
		c.logger.Debug("sync found no changed categories")
		metrics.SyncCycles.WithLabelValues("unchanged").Inc()
		return report, nil
	}

	c.setState(domain.SyncRunningTasks)
	c.logger.Info("sync started", "categories", len(changed))

	for i, category := range changed {
		if c.opts.Suppressor.Suppressed() {
			c.logger.Info("sync interrupted by suppression", "remaining", len(changed)-i)
			report.Interrupted = true
			break
		}
		c.opts.Observer.OnProgress(domain.SyncProgress{Category: category, Index: i, Total: len(changed)})

		result := c.runTask(ctx, category, clock.Clock[category])
		report.Tasks = append(report.Tasks, result)
		metrics.RecordSyncTask(result, c.opts.Now())

		if errors.Is(result.Err, domain.ErrSuppressed) {
			report.Interrupted = true
			break
		}
		if result.Err != nil {
			c.logger.Error("sync task failed", "category", category, "error", result.Err)
			continue
		}
		report.Advanced = append(report.Advanced, category)
	}

	c.opts.Observer.OnProgress(domain.SyncProgress{Index: len(changed), Total: len(changed), Done: true})

	outcome := "completed"
	switch {
	case report.Interrupted:
		outcome = "interrupted"
	case len(report.Failed()) > 0:
		outcome = "failed"
	}
	metrics.SyncCycles.WithLabelValues(outcome).Inc()
	c.logger.Info("sync finished", "outcome", outcome, "succeeded", report.Succeeded(), "failed", len(report.Failed()))
	return report, nil
}

func (c *Coordinator) runTask(ctx context.Context, category domain.Category, remoteAt time.Time) domain.TaskResult {
	start := c.opts.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.TaskTimeout)
	defer cancel()

	var (
		count int
		err   error
	)
	switch category {
	case domain.CategoryMoviesWatched:
		count, err = c.syncWatchedMovies(ctx, remoteAt)
	case domain.CategoryMoviesCollected:
		count, err = c.syncCollectedMovies(ctx, remoteAt)
	case domain.CategoryMoviesWatchlist:
		count, err = c.syncWatchlist(ctx, category, domain.MediaTypeMovie, remoteAt)
	case domain.CategoryEpisodesWatched:
		count, err = c.syncWatchedEpisodes(ctx, remoteAt)
	case domain.CategoryEpisodesCollected:
		count, err = c.syncCollectedEpisodes(ctx, remoteAt)
	case domain.CategoryShowsWatchlist:
		count, err = c.syncWatchlist(ctx, category, domain.MediaTypeShow, remoteAt)
	case domain.CategoryPlayback:
		count, err = c.syncPlayback(ctx, remoteAt)
	case domain.CategoryHidden:
		count, err = c.syncHidden(ctx, remoteAt)
	default:
		err = fmt.Errorf("unknown sync category %q", category)
	}
	return domain.TaskResult{Category: category, Count: count, Duration: c.opts.Now().Sub(start), Err: err}
}

// pull runs one remote read with retries.
func pull[T any](ctx context.Context, c *Coordinator, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := worker.Retry(ctx, c.opts.Backoff, c.logger, op, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func values[T any](items []*T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out
}
