package store

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mmcdole/kinosync/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Sweep deletes entries older than maxAge from both tiers, or every entry
// when force is true. Undecodable records are always deleted. Conditional
// records are swept against their own lifetime. Returns the number of
// payload entries removed.
func (c *Cache) Sweep(maxAge time.Duration, force bool) (int, error) {
	now := c.now()

	if c.db == nil {
		if force {
			c.mu.Lock()
			defer c.mu.Unlock()
			cleared := c.mem.len()
			c.mem.clear()
			return cleared, nil
		}
		return c.sweepMemory(now, maxAge), nil
	}

	var removed []string
	err := c.db.Update(func(tx *bolt.Tx) error {
		var payloadBuckets [][]byte
		err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if strings.HasPrefix(string(name), payloadPrefix) {
				payloadBuckets = append(payloadBuckets, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, name := range payloadBuckets {
			rt := domain.ResourceType(strings.TrimPrefix(string(name), payloadPrefix))
			b := tx.Bucket(name)

			var doomed [][]byte
			err := b.ForEach(func(k, v []byte) error {
				if force {
					doomed = append(doomed, append([]byte(nil), k...))
					return nil
				}
				e, err := decodeEnvelope(v)
				if err != nil {
					c.corrupt.Add(1)
					doomed = append(doomed, append([]byte(nil), k...))
					return nil
				}
				if e.Age(now) > maxAge {
					doomed = append(doomed, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range doomed {
				if err := b.Delete(k); err != nil {
					return err
				}
				removed = append(removed, memKey(rt, string(k)))
			}
		}

		return c.sweepConditional(tx, now, force)
	})
	if err != nil {
		return 0, err
	}

	// Memory is trimmed only after the disk commit so it never holds an
	// entry the disk tier has already dropped.
	if force {
		c.mu.Lock()
		c.gen++
		c.mem.clear()
		c.mu.Unlock()
	} else if len(removed) > 0 {
		set := make(map[string]struct{}, len(removed))
		for _, k := range removed {
			set[k] = struct{}{}
		}
		c.mu.Lock()
		c.gen++
		c.mem.removeFunc(func(k string) bool {
			_, ok := set[k]
			return ok
		})
		c.mu.Unlock()
	}

	for _, k := range removed {
		rt, key := splitMemKey(k)
		c.emit(domain.CacheExpire, rt, key)
	}

	c.logger.Debug("cache sweep complete", "removed", len(removed), "force", force)
	return len(removed), nil
}

func (c *Cache) sweepConditional(tx *bolt.Tx, now time.Time, force bool) error {
	b := tx.Bucket(bucketConditional)
	var doomed [][]byte
	err := b.ForEach(func(k, v []byte) error {
		if force {
			doomed = append(doomed, append([]byte(nil), k...))
			return nil
		}
		var meta domain.ConditionalMeta
		if err := json.Unmarshal(v, &meta); err != nil || now.Sub(meta.StoredAt) > c.conditionalTTL {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range doomed {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) sweepMemory(now time.Time, maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var doomed []string
	for _, k := range c.mem.keys() {
		if e, ok := c.mem.items[k]; ok && e.entry.Age(now) > maxAge {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		c.mem.remove(k)
	}
	return len(doomed)
}

// Sweeper runs Sweep on an interval. It implements suture.Service.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	maxAge   time.Duration
}

// NewSweeper creates a periodic sweeper removing entries older than maxAge.
func NewSweeper(c *Cache, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{cache: c, interval: interval, maxAge: maxAge}
}

// Serve sweeps once per interval until ctx is done.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.cache.Sweep(s.maxAge, false); err != nil {
				s.cache.logger.Warn("cache sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) String() string {
	return "cache-sweeper"
}
