// Package worker runs background work off the caller's goroutine: a
// bounded pool, a shared suppression flag and a retry helper for remote
// calls.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/kinosync/internal/metrics"
)

var (
	// ErrQueueFull indicates the task queue has no free slot
	ErrQueueFull = errors.New("worker queue is full")

	// ErrPoolClosed indicates the pool is shutting down or stopped
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

type job struct {
	name string
	run  Task
}

// Pool is a fixed set of goroutines fed by a bounded queue. It implements
// suture.Service: Serve starts the workers and, once its context is done,
// drains what is already queued before returning.
type Pool struct {
	size         int
	drainTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex // Guards closed and sends on queue
	closed bool
	queue  chan job

	served chan struct{}
	once   sync.Once
}

// NewPool creates a pool of size workers with a queue of queueSize slots.
func NewPool(size, queueSize int, drainTimeout time.Duration, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		size:         size,
		drainTimeout: drainTimeout,
		logger:       logger,
		queue:        make(chan job, queueSize),
		served:       make(chan struct{}),
	}
}

// Submit queues fn without blocking. Tasks submitted before Serve starts
// wait in the queue.
func (p *Pool) Submit(name string, fn Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		metrics.WorkerTasks.WithLabelValues(name, "rejected").Inc()
		return ErrPoolClosed
	}
	select {
	case p.queue <- job{name: name, run: fn}:
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.WorkerTasks.WithLabelValues(name, "rejected").Inc()
		return ErrQueueFull
	}
}

// Serve runs the workers until ctx is done, then stops accepting tasks and
// drains the queue. Tasks still running after the drain timeout have their
// context canceled.
func (p *Pool) Serve(ctx context.Context) error {
	started := false
	p.once.Do(func() { started = true })
	if !started {
		return fmt.Errorf("worker pool already served")
	}
	defer close(p.served)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range p.queue {
				metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
				p.run(runCtx, j)
			}
		}()
	}

	<-ctx.Done()

	p.mu.Lock()
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("worker drain timed out, canceling running tasks", "timeout", p.drainTimeout)
		cancelRun()
		<-done
	}
	return ctx.Err()
}

// Done is closed once Serve has drained and returned.
func (p *Pool) Done() <-chan struct{} {
	return p.served
}

func (p *Pool) run(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "task", j.name, "panic", r)
			metrics.WorkerTasks.WithLabelValues(j.name, "error").Inc()
		}
	}()

	err := j.run(ctx)
	switch {
	case err == nil:
		metrics.WorkerTasks.WithLabelValues(j.name, "ok").Inc()
	case errors.Is(err, ErrSuppressed):
		metrics.WorkerTasks.WithLabelValues(j.name, "suppressed").Inc()
	default:
		p.logger.Debug("worker task failed", "task", j.name, "error", err)
		metrics.WorkerTasks.WithLabelValues(j.name, "error").Inc()
	}
}

func (p *Pool) String() string {
	return "worker-pool"
}
