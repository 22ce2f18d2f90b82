// Package remote holds the HTTP plumbing shared by the Trakt and add-on
// clients: status classification into domain error kinds and a circuit
// breaker that only counts failures worth backing off from.
package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mmcdole/kinosync/internal/domain"
	"github.com/mmcdole/kinosync/internal/metrics"
)

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Classify turns a non-success status into a *domain.RemoteError. It
// returns nil for 2xx and 304.
func Classify(op string, status int, header http.Header) error {
	switch {
	case status >= 200 && status < 300, status == http.StatusNotModified:
		return nil
	case status == http.StatusUnauthorized:
		return &domain.RemoteError{Kind: domain.KindAuthExpired, Op: op, Status: status, Err: domain.ErrAuthFailed}
	case status == http.StatusTooManyRequests:
		return &domain.RemoteError{Kind: domain.KindRateLimited, Op: op, Status: status, RetryAfter: RetryAfter(header)}
	case status >= 500, status == http.StatusRequestTimeout:
		return &domain.RemoteError{Kind: domain.KindTransientNetwork, Op: op, Status: status}
	default:
		return &domain.RemoteError{Kind: domain.KindRemoteRejected, Op: op, Status: status}
	}
}

// Offline wraps a transport failure (timeout, refused connection).
func Offline(op string, err error) error {
	return &domain.RemoteError{
		Kind: domain.KindTransientNetwork,
		Op:   op,
		Err:  fmt.Errorf("%w: %v", domain.ErrServerOffline, err),
	}
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// NewBreaker builds a circuit breaker for one remote service. Only
// transient and rate-limit failures count against it; rejected requests
// and auth failures say nothing about the service's health.
func NewBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker[*Response] {
	if logger == nil {
		logger = slog.Default()
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.KindOf(err).Retryable()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

// BreakerError maps an open or saturated breaker to a transient failure so
// callers back off and serve stale data.
func BreakerError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.RemoteError{Kind: domain.KindTransientNetwork, Op: op, Err: err}
	}
	return err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
