package domain

import "time"

// Category names one remote activity stream with its own sync clock.
type Category string

const (
	CategoryMoviesWatched     Category = "movies.watched"
	CategoryMoviesCollected   Category = "movies.collected"
	CategoryMoviesWatchlist   Category = "movies.watchlist"
	CategoryEpisodesWatched   Category = "episodes.watched"
	CategoryEpisodesCollected Category = "episodes.collected"
	CategoryShowsWatchlist    Category = "shows.watchlist"
	CategoryPlayback          Category = "playback.paused"
	CategoryHidden            Category = "shows.hidden"
)

// Categories is the fixed task order of a sync cycle.
var Categories = []Category{
	CategoryMoviesWatched,
	CategoryMoviesCollected,
	CategoryMoviesWatchlist,
	CategoryEpisodesWatched,
	CategoryEpisodesCollected,
	CategoryShowsWatchlist,
	CategoryPlayback,
	CategoryHidden,
}

// ActivityClock holds one timestamp per category. Missing entries are the zero time.
type ActivityClock map[Category]time.Time

// SyncState is the coordinator's position in a cycle.
type SyncState string

const (
	SyncIdle          SyncState = "idle"
	SyncThrottled     SyncState = "throttled"
	SyncFetchingClock SyncState = "fetching_clock"
	SyncRunningTasks  SyncState = "running_tasks"
)

// TaskResult records the outcome of one category pull.
type TaskResult struct {
	Category Category
	Count    int
	Duration time.Duration
	Err      error
}

// SyncReport summarizes a sync cycle.
type SyncReport struct {
	Skipped     bool // throttled, no network call made
	Interrupted bool // suppression flag stopped the cycle
	StartedAt   time.Time
	Duration    time.Duration
	Tasks       []TaskResult
	Advanced    []Category
}

// Succeeded returns the number of tasks that completed without error.
func (r SyncReport) Succeeded() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the tasks that returned an error.
func (r SyncReport) Failed() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// SyncProgress reports progress during a sync cycle.
type SyncProgress struct {
	Category Category
	Index    int
	Total    int
	Done     bool
	Error    error
}

// SyncObserver receives progress updates during sync operations.
type SyncObserver interface {
	OnProgress(progress SyncProgress)
}

// NoOpObserver discards progress updates (for testing/batch operations).
type NoOpObserver struct{}

func (NoOpObserver) OnProgress(SyncProgress) {}
