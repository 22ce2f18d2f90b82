package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound indicates the requested replica row does not exist
	ErrNotFound = errors.New("item not found")

	// ErrShowNotFound indicates an episode was written before its show
	ErrShowNotFound = errors.New("show must exist before its episodes")

	// ErrServerOffline indicates the remote service is unreachable
	ErrServerOffline = errors.New("remote service is unreachable")

	// ErrAuthFailed indicates the access token was rejected
	ErrAuthFailed = errors.New("access token is invalid")

	// ErrUnavailable indicates nothing is cached and the network failed
	ErrUnavailable = errors.New("resource unavailable")

	// ErrCorruptRecord indicates a cache or replica record could not be decoded
	ErrCorruptRecord = errors.New("corrupt local record")

	// ErrSuppressed indicates background work was skipped by the suppression flag
	ErrSuppressed = errors.New("background work suppressed")

	// ErrSyncInProgress indicates another sync cycle is already running
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidScope indicates a mutation scope does not fit its target
	ErrInvalidScope = errors.New("invalid mutation scope")
)

// Kind classifies errors by how callers should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindAuthExpired
	KindRateLimited
	KindRemoteRejected
	KindLocalCorruption
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindRemoteRejected:
		return "remote_rejected"
	case KindLocalCorruption:
		return "local_corruption"
	default:
		return "unknown"
	}
}

// Retryable reports whether an automatic retry with backoff makes sense.
func (k Kind) Retryable() bool {
	return k == KindTransientNetwork || k == KindRateLimited
}

// RemoteError describes a failed call to a remote service.
type RemoteError struct {
	Kind       Kind
	Op         string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// KindOf classifies err. Errors that carry no classification are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, ErrServerOffline):
		return KindTransientNetwork
	case errors.Is(err, ErrAuthFailed):
		return KindAuthExpired
	case errors.Is(err, ErrCorruptRecord):
		return KindLocalCorruption
	}
	return KindUnknown
}

// RetryAfterOf returns the server-provided delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
