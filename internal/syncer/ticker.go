package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/worker"
)

// Submitter queues background work.
type Submitter interface {
	Submit(name string, fn worker.Task) error
}

// Ticker submits a sync cycle to the worker pool every interval. It
// implements suture.Service.
type Ticker struct {
	coordinator *Coordinator
	pool        Submitter
	interval    time.Duration
	onStartup   bool
	logger      *slog.Logger
}

// NewTicker creates a periodic sync scheduler.
func NewTicker(c *Coordinator, pool Submitter, interval time.Duration, onStartup bool, logger *slog.Logger) *Ticker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{coordinator: c, pool: pool, interval: interval, onStartup: onStartup, logger: logger}
}

// Serve runs until ctx is done.
func (t *Ticker) Serve(ctx context.Context) error {
	if t.onStartup {
		t.submit()
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.submit()
		}
	}
}

func (t *Ticker) submit() {
	err := t.pool.Submit("sync", func(ctx context.Context) error {
		_, err := t.coordinator.Run(ctx, false)
		if errors.Is(err, domain.ErrSyncInProgress) {
			return nil
		}
		return err
	})
	if err != nil {
		t.logger.Warn("failed to schedule sync", "error", err)
	}
}

func (t *Ticker) String() string {
	return "sync-ticker"
}
