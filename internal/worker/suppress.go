package worker

import (
	"sync"
	"sync/atomic"

	"github.com/mmcdole/kinosync/internal/domain"
)

// ErrSuppressed is returned by tasks that skipped their work.
var ErrSuppressed = domain.ErrSuppressed

// Suppressor is a shared flag that asks background work to stand down
// while a latency-sensitive foreground action runs. Holders nest.
type Suppressor struct {
	holders atomic.Int32
}

// Suppress raises the flag until the returned release func is called.
// Calling release more than once has no further effect.
func (s *Suppressor) Suppress() (release func()) {
	s.holders.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { s.holders.Add(-1) })
	}
}

// Suppressed reports whether any holder has the flag raised. A nil
// Suppressor is never raised.
func (s *Suppressor) Suppressed() bool {
	return s != nil && s.holders.Load() > 0
}
