package store

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mmcdole/kinosync/internal/domain"
)

const eventBuffer = 256

// dispatcher fans cache events out to observers on its own goroutine.
// Publishing never blocks: when the buffer is full the event is dropped.
type dispatcher struct {
	observers []domain.CacheObserver
	ch        chan domain.CacheEvent
	done      chan struct{}
	mu        sync.RWMutex // guards ch against send-after-close
	closed    bool
	dropped   atomic.Int64
	logger    *slog.Logger
}

func newDispatcher(observers []domain.CacheObserver, logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		observers: observers,
		done:      make(chan struct{}),
		logger:    logger,
	}
	if len(observers) == 0 {
		close(d.done)
		return d
	}
	d.ch = make(chan domain.CacheEvent, eventBuffer)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.ch {
		for _, o := range d.observers {
			o.OnCacheEvent(ev)
		}
	}
}

func (d *dispatcher) publish(ev domain.CacheEvent) {
	if d.ch == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
	}
}

// close stops accepting events and waits for queued ones to be delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		if d.ch != nil {
			close(d.ch)
		}
	}
	d.mu.Unlock()
	<-d.done
	if n := d.dropped.Load(); n > 0 {
		d.logger.Debug("cache events dropped", "count", n)
	}
}

func (c *Cache) emit(t domain.CacheEventType, rt domain.ResourceType, key string) {
	c.events.publish(domain.CacheEvent{Type: t, Resource: rt, Key: key, At: c.now()})
}
