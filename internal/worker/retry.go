package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmcdole/kinosync/internal/domain"
)

// Backoff bounds the retries of a remote call.
type Backoff struct {
	Attempts int           // retries after the first call
	Base     time.Duration // delay before the first retry
	Max      time.Duration // cap for the exponential delay
}

// DefaultBackoff is 3 retries at 1s, 2s, 4s.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Base: time.Second, Max: 30 * time.Second}
}

// Delay returns the wait before retry n (0-based): base * 2^n, capped.
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or
// the attempts run out. Only transient network and rate-limit failures are
// retried; a server-provided Retry-After delay takes precedence over the
// computed one.
func Retry(ctx context.Context, b Backoff, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		kind := domain.KindOf(err)
		if !kind.Retryable() || attempt >= b.Attempts {
			return err
		}

		delay := b.Delay(attempt)
		if ra := domain.RetryAfterOf(err); ra > 0 {
			delay = ra
		}
		logger.Warn("retrying remote call", "op", op, "kind", kind.String(), "attempt", attempt+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
